package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"jobwatch/internal/model"
)

const (
	cmdProfiles = "profiles"
	cmdPause    = "pause"
	cmdResume   = "resume"
	cmdRun      = "run"
)

func newMessage(chatID int64, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	return msg
}

// profileKeyboard offers pause or resume and run buttons for each profile.
func profileKeyboard(profiles []model.SearchProfile) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(profiles))
	for _, p := range profiles {
		toggle := tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Pause #%d", p.ID), fmt.Sprintf("%s:%d", cmdPause, p.ID))
		if !p.IsActive {
			toggle = tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Resume #%d", p.ID), fmt.Sprintf("%s:%d", cmdResume, p.ID))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			toggle,
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Run #%d", p.ID), fmt.Sprintf("%s:%d", cmdRun, p.ID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 {
		return
	}

	action := parts[0]
	idStr := parts[1]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return
	}

	attrs := []any{"action", action, "id", id, "chat_id", chatID}
	if cb.From != nil {
		attrs = append(attrs, "user_id", cb.From.ID, "username", cb.From.UserName)
	}
	b.log.Info("callback", attrs...)

	switch action {
	case cmdPause:
		b.handleSetActive(ctx, chatID, idStr, false)
	case cmdResume:
		b.handleSetActive(ctx, chatID, idStr, true)
	case cmdRun:
		b.handleRun(ctx, chatID, idStr)
	case cmdProfiles:
		b.handleProfiles(ctx, chatID)
	}
}
