package chathub

import (
	"context"
	"errors"
	"fundchat/backend/internal/directory"
	"fundchat/backend/internal/metrics"
	"fundchat/backend/internal/models"
	"fundchat/backend/internal/storage"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Notices carried by issue and error events.
const (
	NoticeProjectIssue = "project issue."
	NoticeNotReady     = "project not ready."
	NoticeUnavailable  = "project directory unavailable."
)

const directoryTimeout = 10 * time.Second

// ClientRestorer rebuilds a client for a user the hub does not know, e.g.
// a Telegram chat after a restart.
type ClientRestorer func(userID string) (Client, error)

// ManagerService is the hub. Clients, controllers and all channel sends are
// owned by the Run goroutine.
type ManagerService struct {
	Clients map[string]Client

	// Channels
	IncomingCh   chan models.ClientCommand
	RegisterCh   chan Client
	UnregisterCh chan Client

	Store     storage.ChannelStore
	Directory directory.Service
	// FreezeThreshold applies to projects without their own threshold.
	FreezeThreshold int
	Metrics         *metrics.Metrics

	ClientRestorer ClientRestorer

	controllers map[string]*ChannelController
	validate    *validator.Validate
	log         zerolog.Logger
	// ctx is only touched by the Run goroutine.
	ctx  context.Context
	done chan struct{}
}

// NewManagerService wires the hub to the shared channel store and the directory.
func NewManagerService(store storage.ChannelStore, dir directory.Service, freezeThreshold int, m *metrics.Metrics, log zerolog.Logger) *ManagerService {
	return &ManagerService{
		Clients:         make(map[string]Client),
		IncomingCh:      make(chan models.ClientCommand),
		RegisterCh:      make(chan Client),
		UnregisterCh:    make(chan Client),
		Store:           store,
		Directory:       dir,
		FreezeThreshold: freezeThreshold,
		Metrics:         m,
		controllers:     make(map[string]*ChannelController),
		validate:        validator.New(),
		log:             log.With().Str("component", "hub").Logger(),
		ctx:             context.Background(),
		done:            make(chan struct{}),
	}
}

// Done is closed once Run has returned.
func (m *ManagerService) Done() <-chan struct{} { return m.done }

func (m *ManagerService) SetClientRestorer(restorer ClientRestorer) {
	m.ClientRestorer = restorer
}

// Run processes registrations and commands until ctx is done, then closes
// every channel and client.
func (m *ManagerService) Run(ctx context.Context) {
	m.ctx = ctx
	defer close(m.done)
	m.log.Info().Msg("hub started")

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return

		case client := <-m.RegisterCh:
			m.register(client)

		case client := <-m.UnregisterCh:
			m.unregister(client)

		case cmd := <-m.IncomingCh:
			m.handleCommand(cmd)
		}
	}
}

func (m *ManagerService) register(client Client) {
	id := client.GetUserID()
	if old, ok := m.Clients[id]; ok && old != client {
		m.unregister(old)
	}
	m.Clients[id] = client
	m.log.Debug().Str("user", id).Msg("client registered")
}

// unregister ignores a client that was already replaced under the same id.
func (m *ManagerService) unregister(client Client) {
	id := client.GetUserID()
	current, ok := m.Clients[id]
	if !ok || current != client {
		return
	}
	m.closeController(id)
	delete(m.Clients, id)
	client.Close()
	m.log.Debug().Str("user", id).Msg("client unregistered")
}

func (m *ManagerService) shutdown() {
	for id, client := range m.Clients {
		m.closeController(id)
		client.Close()
		delete(m.Clients, id)
	}
	m.log.Info().Msg("hub stopped")
}

// RestoreClientSession registers a client built by the ClientRestorer.
func (m *ManagerService) RestoreClientSession(userID string) error {
	if m.ClientRestorer == nil {
		return nil
	}
	if _, ok := m.Clients[userID]; ok {
		return nil
	}

	client, err := m.ClientRestorer(userID)
	if err != nil {
		return err
	}

	m.Clients[userID] = client
	client.Run()
	m.log.Info().Str("user", userID).Msg("restored client session")
	return nil
}

func (m *ManagerService) handleCommand(cmd models.ClientCommand) {
	client, ok := m.Clients[cmd.SenderID]
	if !ok {
		if err := m.RestoreClientSession(cmd.SenderID); err != nil {
			m.log.Error().Err(err).Str("user", cmd.SenderID).Msg("restoring client session failed")
			return
		}
		if client, ok = m.Clients[cmd.SenderID]; !ok {
			m.log.Warn().Str("user", cmd.SenderID).Msg("command from unknown client dropped")
			return
		}
	}

	if err := m.validate.Struct(cmd); err != nil {
		if cmd.Type == models.CommandJoin && cmd.ProjectUID == "" {
			m.send(client, models.FeedEvent{Type: models.EventIssue, Notice: NoticeNotReady})
			return
		}
		m.send(client, models.FeedEvent{Type: models.EventError, Notice: "invalid command"})
		return
	}

	var err error
	switch cmd.Type {
	case models.CommandJoin:
		err = m.Join(client, cmd.ProjectUID)
	case models.CommandLeave:
		m.Leave(client)
	case models.CommandPost:
		err = m.post(client, cmd.Text)
	case models.CommandVote:
		err = m.vote(client)
	}
	if err != nil {
		m.log.Debug().Err(err).Str("user", cmd.SenderID).Str("command", cmd.Type).Msg("command refused")
	}
}

// Join gates the project through the directory and opens its channel for
// the client. Only deployed, unfrozen projects get a channel.
func (m *ManagerService) Join(client Client, projectUID string) error {
	if projectUID == "" {
		m.send(client, models.FeedEvent{Type: models.EventIssue, Notice: NoticeNotReady})
		return ErrNotReady
	}

	ctx, cancel := context.WithTimeout(m.ctx, directoryTimeout)
	project, err := m.Directory.GetProject(ctx, projectUID)
	cancel()

	switch {
	case errors.Is(err, directory.ErrProjectNotFound):
		m.send(client, models.FeedEvent{Type: models.EventIssue, ProjectUID: projectUID, Notice: NoticeProjectIssue})
		return ErrProjectIssue
	case err != nil:
		m.log.Error().Err(err).Str("project", projectUID).Msg("directory lookup failed")
		m.send(client, models.FeedEvent{Type: models.EventError, ProjectUID: projectUID, Notice: NoticeUnavailable})
		return err
	case !project.Deployed:
		m.send(client, models.FeedEvent{Type: models.EventIssue, ProjectUID: projectUID, Notice: NoticeProjectIssue})
		return ErrProjectIssue
	case project.Frozen:
		status := models.FreezeStatus{Threshold: project.EffectiveFreezeThreshold(m.FreezeThreshold), Frozen: true}
		m.send(client, models.FeedEvent{Type: models.EventFrozen, ProjectUID: projectUID, Freeze: &status})
		return ErrAlreadyFrozen
	}

	id := client.GetUserID()
	m.closeController(id)

	ctrl := NewChannelController(m.Store, ControllerConfig{
		Author:    id,
		Threshold: project.EffectiveFreezeThreshold(m.FreezeThreshold),
		Sink:      m.sinkFor(client),
		OnFrozen:  m.persistFrozen,
		Logger:    m.log,
		Metrics:   m.Metrics,
	})

	m.send(client, models.FeedEvent{Type: models.EventJoined, ProjectUID: projectUID})
	if err := ctrl.Open(m.ctx, projectUID); err != nil {
		m.log.Error().Err(err).Str("project", projectUID).Msg("opening channel failed")
		m.send(client, models.FeedEvent{Type: models.EventError, ProjectUID: projectUID, Notice: "channel unavailable."})
		return err
	}

	m.controllers[id] = ctrl
	client.SetProjectUID(projectUID)
	return nil
}

// Leave closes the client's channel, if any.
func (m *ManagerService) Leave(client Client) {
	id := client.GetUserID()
	projectUID := client.GetProjectUID()
	if !m.closeController(id) {
		return
	}
	client.SetProjectUID("")
	m.send(client, models.FeedEvent{Type: models.EventLeft, ProjectUID: projectUID})
}

func (m *ManagerService) closeController(userID string) bool {
	ctrl, ok := m.controllers[userID]
	if !ok {
		return false
	}
	ctrl.Close()
	delete(m.controllers, userID)
	return true
}

func (m *ManagerService) post(client Client, text string) error {
	ctrl, ok := m.controllers[client.GetUserID()]
	if !ok {
		m.send(client, models.FeedEvent{Type: models.EventIssue, Notice: NoticeNotReady})
		return ErrEmptyMessage
	}
	if err := ctrl.Post(m.ctx, text); err != nil {
		m.send(client, errorEvent(ctrl.ProjectUID(), err))
		return err
	}
	return nil
}

func (m *ManagerService) vote(client Client) error {
	ctrl, ok := m.controllers[client.GetUserID()]
	if !ok {
		m.send(client, models.FeedEvent{Type: models.EventIssue, Notice: NoticeNotReady})
		return ErrNotReady
	}
	if err := ctrl.Vote(m.ctx, client.GetUserID()); err != nil {
		m.send(client, errorEvent(ctrl.ProjectUID(), err))
		return err
	}
	return nil
}

func errorEvent(projectUID string, err error) models.FeedEvent {
	notice := err.Error()
	if errors.Is(err, ErrWriteFailed) {
		notice = ErrWriteFailed.Error()
	}
	return models.FeedEvent{Type: models.EventError, ProjectUID: projectUID, Notice: notice}
}

// persistFrozen runs on a store delivery goroutine, so the directory call
// must not block it.
func (m *ManagerService) persistFrozen(projectUID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
		defer cancel()
		if err := m.Directory.MarkFrozen(ctx, projectUID); err != nil {
			m.log.Error().Err(err).Str("project", projectUID).Msg("persisting frozen flag failed")
		}
	}()
}

// sinkFor forwards controller events. A client whose buffer is full is
// dropped, as the write pump cannot keep up.
func (m *ManagerService) sinkFor(client Client) func(models.FeedEvent) {
	return func(ev models.FeedEvent) {
		select {
		case client.GetSendChannel() <- ev:
		default:
			m.log.Warn().Str("user", client.GetUserID()).Msg("client too slow, dropping")
			go func() {
				select {
				case m.UnregisterCh <- client:
				case <-m.done:
				}
			}()
		}
	}
}

// send is only used from the Run goroutine for registered clients.
func (m *ManagerService) send(client Client, ev models.FeedEvent) {
	m.sinkFor(client)(ev)
}

// Controller returns the client's open channel controller. It must be
// called from the Run goroutine or after Run returned.
func (m *ManagerService) Controller(userID string) (*ChannelController, bool) {
	ctrl, ok := m.controllers[userID]
	return ctrl, ok
}
