package telegram

import (
	"fundchat/backend/internal/chathub"
	"fundchat/backend/internal/localization"
	"fundchat/backend/internal/models"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// userPrefix marks hub identities that belong to Telegram chats.
const userPrefix = "tg:"

// snapshotLines is how much of a replayed feed a chat is shown on join.
const snapshotLines = 10

// Sender is the part of the Bot API the client writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// UserID returns the hub identity of a Telegram chat. It is also the voter
// identity of freeze votes cast from that chat.
func UserID(chatID int64) string {
	return userPrefix + strconv.FormatInt(chatID, 10)
}

// ChatID parses a hub identity created by UserID.
func ChatID(userID string) (int64, bool) {
	raw, ok := strings.CutPrefix(userID, userPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

// Client implements chathub.Client for one Telegram chat.
type Client struct {
	ChatID    int64
	Lang      string
	Send      chan models.FeedEvent
	Bot       Sender
	Localizer *localization.Localizer
	Log       zerolog.Logger

	mu         sync.Mutex
	projectUID string
	closeOnce  sync.Once
}

func NewClient(chatID int64, lang string, bot Sender, loc *localization.Localizer, log zerolog.Logger) *Client {
	return &Client{
		ChatID:    chatID,
		Lang:      lang,
		Send:      make(chan models.FeedEvent, chathub.SendBufferSize),
		Bot:       bot,
		Localizer: loc,
		Log:       log.With().Int64("chat", chatID).Logger(),
	}
}

func (c *Client) GetUserID() string { return UserID(c.ChatID) }

func (c *Client) GetProjectUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectUID
}

func (c *Client) SetProjectUID(id string) {
	c.mu.Lock()
	c.projectUID = id
	c.mu.Unlock()
}

func (c *Client) GetSendChannel() chan<- models.FeedEvent { return c.Send }

// Run starts the write pump. Updates are read centrally by the BotService.
func (c *Client) Run() {
	go c.writePump()
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func (c *Client) writePump() {
	defer func() {
		c.Log.Debug().Msg("telegram write pump stopped")
	}()

	for event := range c.Send {
		text, ok := Render(c.Localizer, c.Lang, c.GetUserID(), event)
		if !ok {
			continue
		}
		if _, err := c.Bot.Send(tgbotapi.NewMessage(c.ChatID, text)); err != nil {
			c.Log.Error().Err(err).Str("event", event.Type).Msg("sending telegram message failed")
		}
	}
}

// Render turns a feed event into the text shown in the chat. Messages the
// chat posted itself are not echoed back.
func Render(loc *localization.Localizer, lang, self string, ev models.FeedEvent) (string, bool) {
	switch ev.Type {
	case models.EventMessage:
		if ev.Message == nil || ev.Message.Author == self {
			return "", false
		}
		return loc.Format(lang, "message", shortID(ev.Message.Author), ev.Message.Text), true
	case models.EventSnapshot:
		if len(ev.Messages) == 0 {
			return "", false
		}
		recent := ev.Messages[max(0, len(ev.Messages)-snapshotLines):]
		lines := lo.Map(recent, func(m models.ChatMessage, _ int) string {
			return loc.Format(lang, "message", shortID(m.Author), m.Text)
		})
		return strings.Join(lines, "\n"), true
	case models.EventVote:
		if ev.Freeze == nil {
			return "", false
		}
		return loc.Format(lang, "vote_counted", ev.Freeze.Votes, ev.Freeze.Threshold), true
	case models.EventFrozen:
		return loc.Format(lang, "frozen", ev.ProjectUID), true
	case models.EventJoined:
		return loc.Format(lang, "joined", ev.ProjectUID), true
	case models.EventLeft:
		return loc.Format(lang, "left", ev.ProjectUID), true
	case models.EventIssue:
		switch ev.Notice {
		case chathub.NoticeProjectIssue:
			return loc.GetString(lang, "project_issue"), true
		case chathub.NoticeNotReady:
			return loc.GetString(lang, "not_joined"), true
		}
		return ev.Notice, ev.Notice != ""
	case models.EventError:
		if ev.Notice == chathub.NoticeUnavailable {
			return loc.GetString(lang, "unavailable"), true
		}
		return loc.Format(lang, "error", ev.Notice), true
	}
	return "", false
}

// shortID keeps public keys readable in a chat line.
func shortID(id string) string {
	if id == "" {
		return "?"
	}
	if len(id) <= 10 {
		return id
	}
	return id[:6] + ".." + id[len(id)-4:]
}
