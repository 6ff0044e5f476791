package chathub_test

import (
	"context"
	"fmt"
	"fundchat/backend/internal/chathub"
	"fundchat/backend/internal/directory"
	"fundchat/backend/internal/models"
	"fundchat/backend/internal/storage"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func deployedProject(uid string) *models.Project {
	return &models.Project{ProjectUID: uid, OwnerAddress: "SP-OWNER", Deployed: true}
}

func startHub(t *testing.T, store storage.ChannelStore, dir directory.Service, threshold int) *chathub.ManagerService {
	t.Helper()
	hub := chathub.NewManagerService(store, dir, threshold, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub
}

func TestManager_Run(t *testing.T) {
	hub := startHub(t, storage.NewMemoryChannelStore(), new(MockDirectory), 5)
	clientA := newMockClient("user_A")

	hub.RegisterCh <- clientA
	hub.UnregisterCh <- clientA

	assert.Eventually(t, clientA.IsClosed, time.Second, 10*time.Millisecond)
}

func TestManager_JoinAndPost(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("GetProject", "proj-42").Return(deployedProject("proj-42"), nil)
	hub := startHub(t, storage.NewMemoryChannelStore(), dir, 5)

	alice := newMockClient("pk-alice")
	bob := newMockClient("pk-bob")
	hub.RegisterCh <- alice
	hub.RegisterCh <- bob

	hub.IncomingCh <- models.ClientCommand{Type: models.CommandJoin, ProjectUID: "proj-42", SenderID: "pk-alice"}
	hub.IncomingCh <- models.ClientCommand{Type: models.CommandJoin, ProjectUID: "proj-42", SenderID: "pk-bob"}
	alice.next(t, models.EventJoined)
	bob.next(t, models.EventJoined)

	hub.IncomingCh <- models.ClientCommand{Type: models.CommandPost, Text: " hi bob ", SenderID: "pk-alice"}

	ev := bob.next(t, models.EventMessage)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "hi bob", ev.Message.Text)
	assert.Equal(t, "pk-alice", ev.Message.Author)
	assert.Equal(t, "proj-42", ev.ProjectUID)

	own := alice.next(t, models.EventMessage)
	assert.Equal(t, ev.Message.ID, own.Message.ID)
	assert.Equal(t, "proj-42", alice.GetProjectUID())
}

func TestManager_UndeployedProjectOpensNoChannel(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("GetProject", "proj-draft").Return(&models.Project{ProjectUID: "proj-draft", Deployed: false}, nil)
	store := newCountingStore(storage.NewMemoryChannelStore())
	hub := chathub.NewManagerService(store, dir, 5, nil, zerolog.Nop())
	client := newMockClient("pk-1")
	hub.Clients["pk-1"] = client

	err := hub.Join(client, "proj-draft")
	assert.ErrorIs(t, err, chathub.ErrProjectIssue)

	ev := client.next(t, models.EventIssue)
	assert.Equal(t, chathub.NoticeProjectIssue, ev.Notice)
	_, open := hub.Controller("pk-1")
	assert.False(t, open)
	assert.Empty(t, client.GetProjectUID())
}

func TestManager_JoinGate(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("GetProject", "missing").Return(nil, directory.ErrProjectNotFound)
	dir.On("GetProject", "down").Return(nil, directory.ErrDirectoryUnavailable)
	dir.On("GetProject", "frozen").Return(&models.Project{ProjectUID: "frozen", Deployed: true, Frozen: true, FreezeThreshold: 3}, nil)
	hub := chathub.NewManagerService(storage.NewMemoryChannelStore(), dir, 5, nil, zerolog.Nop())
	client := newMockClient("pk-1")
	hub.Clients["pk-1"] = client

	assert.ErrorIs(t, hub.Join(client, ""), chathub.ErrNotReady)
	assert.Equal(t, chathub.NoticeNotReady, client.next(t, models.EventIssue).Notice)

	assert.ErrorIs(t, hub.Join(client, "missing"), chathub.ErrProjectIssue)
	assert.Equal(t, chathub.NoticeProjectIssue, client.next(t, models.EventIssue).Notice)

	assert.ErrorIs(t, hub.Join(client, "down"), directory.ErrDirectoryUnavailable)
	assert.Equal(t, chathub.NoticeUnavailable, client.next(t, models.EventError).Notice)

	assert.ErrorIs(t, hub.Join(client, "frozen"), chathub.ErrAlreadyFrozen)
	ev := client.next(t, models.EventFrozen)
	assert.Equal(t, &models.FreezeStatus{Threshold: 3, Frozen: true}, ev.Freeze)

	_, open := hub.Controller("pk-1")
	assert.False(t, open)
}

func TestManager_InvalidCommands(t *testing.T) {
	hub := startHub(t, storage.NewMemoryChannelStore(), new(MockDirectory), 5)
	client := newMockClient("pk-1")
	hub.RegisterCh <- client

	hub.IncomingCh <- models.ClientCommand{Type: models.CommandJoin, SenderID: "pk-1"}
	assert.Equal(t, chathub.NoticeNotReady, client.next(t, models.EventIssue).Notice)

	hub.IncomingCh <- models.ClientCommand{Type: "dance", SenderID: "pk-1"}
	client.next(t, models.EventError)

	hub.IncomingCh <- models.ClientCommand{Type: models.CommandPost, Text: "nobody listens", SenderID: "pk-1"}
	assert.Equal(t, chathub.NoticeNotReady, client.next(t, models.EventIssue).Notice)
}

func TestManager_FreezePersisted(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("GetProject", "proj-1").Return(&models.Project{ProjectUID: "proj-1", Deployed: true, FreezeThreshold: 2}, nil)
	marked := make(chan string, 4)
	dir.On("MarkFrozen", "proj-1").Run(func(args mock.Arguments) {
		marked <- args.String(0)
	}).Return(nil)
	hub := startHub(t, storage.NewMemoryChannelStore(), dir, 5)

	a := newMockClient("pk-a")
	b := newMockClient("pk-b")
	hub.RegisterCh <- a
	hub.RegisterCh <- b
	hub.IncomingCh <- models.ClientCommand{Type: models.CommandJoin, ProjectUID: "proj-1", SenderID: "pk-a"}
	hub.IncomingCh <- models.ClientCommand{Type: models.CommandJoin, ProjectUID: "proj-1", SenderID: "pk-b"}

	hub.IncomingCh <- models.ClientCommand{Type: models.CommandVote, SenderID: "pk-a"}
	hub.IncomingCh <- models.ClientCommand{Type: models.CommandVote, SenderID: "pk-a"}
	assert.Equal(t, chathub.ErrDuplicateVote.Error(), a.next(t, models.EventError).Notice)

	hub.IncomingCh <- models.ClientCommand{Type: models.CommandVote, SenderID: "pk-b"}

	frozen := a.next(t, models.EventFrozen)
	assert.Equal(t, 2, frozen.Freeze.Votes)
	b.next(t, models.EventFrozen)

	select {
	case uid := <-marked:
		assert.Equal(t, "proj-1", uid)
	case <-time.After(time.Second):
		t.Fatal("frozen flag was not persisted")
	}

	hub.IncomingCh <- models.ClientCommand{Type: models.CommandPost, Text: "too late", SenderID: "pk-b"}
	assert.Equal(t, chathub.ErrAlreadyFrozen.Error(), b.next(t, models.EventError).Notice)
}

func TestManager_LeaveClosesChannel(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("GetProject", "proj-1").Return(deployedProject("proj-1"), nil)
	hub := chathub.NewManagerService(storage.NewMemoryChannelStore(), dir, 5, nil, zerolog.Nop())
	client := newMockClient("pk-1")
	hub.Clients["pk-1"] = client

	require.NoError(t, hub.Join(client, "proj-1"))
	assert.Equal(t, "proj-1", client.GetProjectUID())

	hub.Leave(client)
	ev := client.next(t, models.EventLeft)
	assert.Equal(t, "proj-1", ev.ProjectUID)
	assert.Empty(t, client.GetProjectUID())
	_, open := hub.Controller("pk-1")
	assert.False(t, open)
}

func TestManager_SetClientRestorer(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("GetProject", "proj-1").Return(deployedProject("proj-1"), nil)
	hub := startHub(t, storage.NewMemoryChannelStore(), dir, 5)

	restored := newMockClient("tg:42")
	hub.SetClientRestorer(func(userID string) (chathub.Client, error) {
		assert.Equal(t, "tg:42", userID)
		return restored, nil
	})

	hub.IncomingCh <- models.ClientCommand{Type: models.CommandJoin, ProjectUID: "proj-1", SenderID: "tg:42"}
	restored.next(t, models.EventJoined)
}

func TestManager_JoinLongHistoryKeepsClient(t *testing.T) {
	ctx := context.Background()
	dir := new(MockDirectory)
	dir.On("GetProject", "proj-big").Return(deployedProject("proj-big"), nil)

	store := storage.NewMemoryChannelStore()
	h, err := store.Open(storage.ChannelPath("proj-big"))
	require.NoError(t, err)
	total := chathub.SendBufferSize + 44
	for i := 0; i < total; i++ {
		_, err := store.Append(ctx, h, models.Record{Kind: models.KindMessage, Text: fmt.Sprintf("m%d", i), Author: "pk-old"})
		require.NoError(t, err)
	}
	store.Close(h)

	hub := startHub(t, store, dir, 5)
	client := newMockClient("pk-new")
	hub.RegisterCh <- client
	hub.IncomingCh <- models.ClientCommand{Type: models.CommandJoin, ProjectUID: "proj-big", SenderID: "pk-new"}

	client.next(t, models.EventJoined)
	snap := client.next(t, models.EventSnapshot)
	require.Len(t, snap.Messages, total)
	assert.Equal(t, "m0", snap.Messages[0].Text)
	assert.Equal(t, fmt.Sprintf("m%d", total-1), snap.Messages[total-1].Text)

	hub.IncomingCh <- models.ClientCommand{Type: models.CommandPost, Text: "still here", SenderID: "pk-new"}
	assert.Equal(t, "still here", client.next(t, models.EventMessage).Message.Text)
	assert.False(t, client.IsClosed())
}
