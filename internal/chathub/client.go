package chathub

import "fundchat/backend/internal/models"

// Client is the interface for any type of connection (e.g., WebSocket, Telegram).
// It abstracts the underlying communication mechanism, allowing the hub to manage
// different client types uniformly.
type Client interface {
	// GetUserID returns the identity of the connected user. It doubles as
	// the author of posts and the voter of freeze votes.
	GetUserID() string
	// GetProjectUID returns the project whose channel the client has joined.
	GetProjectUID() string
	// SetProjectUID is called by the hub when the client joins or leaves a project.
	SetProjectUID(string)

	// GetSendChannel returns the channel to which the ManagerService (hub) sends
	// feed events intended for this specific client. It is a send-only channel.
	GetSendChannel() chan<- models.FeedEvent

	// Run starts the client's read and write pumps, which handle incoming and
	// outgoing messages.
	Run()
	// Close gracefully shuts down the client's connection and associated channels.
	Close()
}
