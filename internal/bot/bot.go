// Package bot implements the Telegram front end: users manage their search
// profiles with commands and receive matches as messages.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"jobwatch/internal/config"
	"jobwatch/internal/model"
	"jobwatch/internal/notify"
	"jobwatch/internal/scheduler"
	"jobwatch/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Runner starts pipeline runs on behalf of a user.
type Runner interface {
	TriggerAsync(ctx context.Context, criteria []model.SearchCriteria, sources []model.Source) (string, error)
}

// Bot is the Telegram bot that handles user commands and sends notifications.
type Bot struct {
	api    telegramAPI
	store  storage.Storage
	runner Runner
	state  *scheduler.State
	cfg    *config.Config
	log    *slog.Logger
}

var _ notify.Sender = (*Bot)(nil)

// New creates a Bot with the given Telegram token, storage, and config.
func New(token string, store storage.Storage, runner Runner, state *scheduler.State, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:    api,
		store:  store,
		runner: runner,
		state:  state,
		cfg:    cfg,
		log:    log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if update.CallbackQuery.From != nil && !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.From != nil && !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// Send delivers a matched listing to the user's Telegram chat.
func (b *Bot) Send(ctx context.Context, _ model.Notification, l model.Listing, u model.User) error {
	if u.TelegramChatID == 0 {
		return errors.New("user has no telegram chat")
	}
	msg := tgbotapi.NewMessage(u.TelegramChatID, FormatListing(l))
	msg.DisableWebPagePreview = true

	errc := make(chan error, 1)
	go func() {
		_, err := b.api.Send(msg)
		errc <- err
	}()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID, displayName(msg))
	case "help":
		b.handleHelp(chatID)
	case "email":
		b.handleEmail(ctx, chatID, args)
	case "channel":
		b.handleChannel(ctx, chatID, args)
	case "add":
		b.handleAdd(ctx, chatID, args)
	case cmdProfiles:
		b.handleProfiles(ctx, chatID)
	case cmdPause:
		b.handleSetActive(ctx, chatID, args, false)
	case cmdResume:
		b.handleSetActive(ctx, chatID, args, true)
	case cmdRun:
		b.handleRun(ctx, chatID, args)
	case "history":
		b.handleHistory(ctx, chatID)
	case "stats":
		b.handleStats(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func displayName(msg *tgbotapi.Message) string {
	if msg.From != nil {
		if name := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName); name != "" {
			return name
		}
		if msg.From.UserName != "" {
			return msg.From.UserName
		}
	}
	if msg.Chat != nil && msg.Chat.UserName != "" {
		return msg.Chat.UserName
	}
	return "there"
}
