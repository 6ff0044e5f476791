// Package telegram handles the integration with the Telegram Bot API.
// It is responsible for receiving updates from Telegram, processing them,
// and communicating with the central chat hub.
package telegram

import (
	"context"
	"fmt"
	"fundchat/backend/internal/chathub"
	"fundchat/backend/internal/localization"
	"fundchat/backend/internal/models"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const defaultLang = "en"

// BotService is responsible for receiving Telegram updates and routing them to the hub.
type BotService struct {
	BotAPI    *tgbotapi.BotAPI
	Hub       *chathub.ManagerService
	Localizer *localization.Localizer
	log       zerolog.Logger

	mu    sync.Mutex
	langs map[int64]string
}

// NewBotService creates a new BotService instance and installs it as the
// hub's restorer for Telegram identities.
func NewBotService(token string, hub *chathub.ManagerService, log zerolog.Logger) (*BotService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	localizer, err := localization.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to create localizer: %w", err)
	}

	s := &BotService{
		BotAPI:    bot,
		Hub:       hub,
		Localizer: localizer,
		log:       log.With().Str("component", "telegram").Logger(),
		langs:     make(map[int64]string),
	}
	hub.SetClientRestorer(s.restoreClient)
	s.log.Info().Str("account", bot.Self.UserName).Msg("authorized on telegram")
	return s, nil
}

// restoreClient builds the client of a chat the hub has not seen yet. It
// runs on the hub goroutine.
func (s *BotService) restoreClient(userID string) (chathub.Client, error) {
	chatID, ok := ChatID(userID)
	if !ok {
		return nil, fmt.Errorf("not a telegram identity: %q", userID)
	}
	return NewClient(chatID, s.lang(chatID), s.BotAPI, s.Localizer, s.log), nil
}

func (s *BotService) lang(chatID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lang, ok := s.langs[chatID]; ok {
		return lang
	}
	return defaultLang
}

func (s *BotService) rememberLang(chatID int64, from *tgbotapi.User) {
	if from == nil || from.LanguageCode == "" {
		return
	}
	lang := strings.ToLower(from.LanguageCode)
	if i := strings.IndexByte(lang, '-'); i > 0 {
		lang = lang[:i]
	}
	s.mu.Lock()
	s.langs[chatID] = lang
	s.mu.Unlock()
}

// ParseCommand maps a chat line to a hub command. ok is false for lines the
// bot answers itself.
func ParseCommand(text string) (cmd models.ClientCommand, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return models.ClientCommand{Type: models.CommandPost, Text: text}, true
	}

	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	// Group chats address commands as /cmd@botname.
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}

	switch name {
	case "dao":
		uid := ""
		if len(fields) > 1 {
			uid = fields[1]
		}
		return models.ClientCommand{Type: models.CommandJoin, ProjectUID: uid}, true
	case "leave":
		return models.ClientCommand{Type: models.CommandLeave}, true
	case "freeze":
		return models.ClientCommand{Type: models.CommandVote}, true
	}
	return models.ClientCommand{}, false
}

func (s *BotService) reply(chatID int64, key string) {
	msg := tgbotapi.NewMessage(chatID, s.Localizer.GetString(s.lang(chatID), key))
	if _, err := s.BotAPI.Send(msg); err != nil {
		s.log.Error().Err(err).Int64("chat", chatID).Msg("sending reply failed")
	}
}

func (s *BotService) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	s.rememberLang(chatID, msg.From)

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return
	}

	cmd, ok := ParseCommand(text)
	if !ok {
		if msg.Command() == "start" {
			s.reply(chatID, "welcome")
			return
		}
		s.reply(chatID, "help")
		return
	}

	cmd.SenderID = UserID(chatID)
	select {
	case s.Hub.IncomingCh <- cmd:
	case <-ctx.Done():
	}
}

// Run reads updates until ctx is done.
func (s *BotService) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.BotAPI.GetUpdatesChan(u)
	defer s.BotAPI.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				s.handleIncomingMessage(ctx, update.Message)
			}
		}
	}
}
