package models

// Record kinds carried in a project channel.
const (
	KindMessage = "message"
	KindVote    = "vote"
)

// Record is the payload appended to a project channel. The store assigns
// its identity and CreatedAt; writers leave CreatedAt zero.
type Record struct {
	Kind      string `json:"kind,omitempty"`
	Text      string `json:"text,omitempty"`
	Author    string `json:"author,omitempty"`
	Voter     string `json:"voter,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// IsVote reports whether the record is a freeze vote.
func (r Record) IsVote() bool { return r.Kind == KindVote }

// ChatMessage is one entry of the visible feed.
type ChatMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Author    string `json:"author,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// FreezeStatus is the observable state of a project's freeze vote.
type FreezeStatus struct {
	Votes     int  `json:"votes"`
	Threshold int  `json:"threshold"`
	Frozen    bool `json:"frozen"`
}

// Feed event types sent to clients.
const (
	EventMessage = "message"
	EventVote    = "vote"
	EventFrozen  = "frozen"
	EventIssue   = "issue"
	EventError   = "error"
	EventJoined  = "joined"
	EventLeft    = "left"

	// EventSnapshot carries the feed and tally replayed on join.
	EventSnapshot = "snapshot"
)

// FeedEvent is what a client receives on its send channel.
type FeedEvent struct {
	Type       string        `json:"type"`
	ProjectUID string        `json:"projectuid,omitempty"`
	Message    *ChatMessage  `json:"message,omitempty"`
	Messages   []ChatMessage `json:"messages,omitempty"`
	Freeze     *FreezeStatus `json:"freeze,omitempty"`
	Notice     string        `json:"notice,omitempty"`
}

// Client command types.
const (
	CommandJoin  = "join"
	CommandLeave = "leave"
	CommandPost  = "post"
	CommandVote  = "vote"
)

// ClientCommand is an inbound request from a connected client.
type ClientCommand struct {
	Type       string `json:"type" validate:"required,oneof=join leave post vote"`
	ProjectUID string `json:"projectuid,omitempty" validate:"required_if=Type join,max=128"`
	Text       string `json:"text,omitempty" validate:"max=4096"`
	// SenderID is stamped by the client pump from the authenticated identity.
	SenderID string `json:"-"`
}
