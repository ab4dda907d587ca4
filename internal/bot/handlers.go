package bot

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"jobwatch/internal/model"
	"jobwatch/internal/scheduler"
	"jobwatch/internal/storage"
)

const (
	defaultStatsWindow = 24 * time.Hour
	historyLimit       = 10
)

func (b *Bot) handleStart(ctx context.Context, chatID int64, name string) {
	u, err := b.store.GetUserByChatID(ctx, chatID)
	switch {
	case err == nil:
		b.reply(chatID, fmt.Sprintf("Welcome back, %s! Use /profiles to see your searches.", u.Name))
		return
	case !errors.Is(err, storage.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	u = &model.User{
		Name:           name,
		Channel:        model.ChannelTelegram,
		TelegramChatID: chatID,
		IsActive:       true,
	}
	if err := b.store.CreateUser(ctx, u); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to register: %v", err))
		return
	}
	b.log.Info("user registered", "user_id", u.ID, "chat_id", chatID)

	b.reply(chatID, `Welcome to jobwatch!

I scrape job boards and message you when a new listing matches one of your searches.

Quick start:
1. /add python, django -t remote -s 80000-150000 — save a search
2. /profiles — review your searches
3. /run — search now instead of waiting for the next scheduled run

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Searches:
/add <keywords> [-l location] [-t type] [-e level] [-s salary] — save a search
/profiles — list your searches
/pause <id> — stop matching a search
/resume <id> — start matching a search again
/run [id] — run one or all of your searches now

Keywords are comma separated.
Type: remote | hybrid | onsite | any
Level: entry | mid | senior | any
Salary: 80000-150000, 80k-, -120k

Account:
/email <address> — set your email address
/channel email|telegram — choose where matches are delivered
/history — your latest notifications
/stats [window] — listing statistics, e.g. /stats 72h`)
}

// user returns the registered user for chatID, replying with a hint when
// the chat has not run /start yet.
func (b *Bot) user(ctx context.Context, chatID int64) *model.User {
	u, err := b.store.GetUserByChatID(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, "You are not registered yet. Use /start first.")
		return nil
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return nil
	}
	return u
}

// ownedProfile loads profile id and checks it belongs to u.
func (b *Bot) ownedProfile(ctx context.Context, chatID int64, u *model.User, id int64) *model.SearchProfile {
	p, err := b.store.GetProfile(ctx, id)
	if err != nil || p.UserID != u.ID {
		b.reply(chatID, fmt.Sprintf("Profile #%d not found.", id))
		return nil
	}
	return p
}

func (b *Bot) handleEmail(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /email <address>")
		return
	}
	addr, err := mail.ParseAddress(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Invalid email address %q.", args))
		return
	}
	u := b.user(ctx, chatID)
	if u == nil {
		return
	}

	u.Email = addr.Address
	if err := b.store.UpdateUser(ctx, u); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Email set to %s. Use /channel email to receive matches there.", u.Email))
}

func (b *Bot) handleChannel(ctx context.Context, chatID int64, args string) {
	ch := model.Channel(args)
	if ch != model.ChannelEmail && ch != model.ChannelTelegram {
		b.reply(chatID, "Usage: /channel email|telegram")
		return
	}
	u := b.user(ctx, chatID)
	if u == nil {
		return
	}
	if ch == model.ChannelEmail && u.Email == "" {
		b.reply(chatID, "Set an address with /email first.")
		return
	}

	u.Channel = ch
	if err := b.store.UpdateUser(ctx, u); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Matches will be delivered by %s.", ch))
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	parsed, err := ParseProfileCommand(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	u := b.user(ctx, chatID)
	if u == nil {
		return
	}

	p := &model.SearchProfile{
		UserID:   u.ID,
		Name:     parsed.Name,
		Criteria: parsed.Criteria,
		IsActive: true,
	}
	if err := b.store.CreateProfile(ctx, p); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save search: %v", err))
		return
	}

	b.reply(chatID, fmt.Sprintf("Search #%d saved: %s\n%s", p.ID, p.Name, FormatCriteria(p.Criteria)))
}

func (b *Bot) handleProfiles(ctx context.Context, chatID int64) {
	u := b.user(ctx, chatID)
	if u == nil {
		return
	}
	profiles, err := b.store.ListProfiles(ctx, u.ID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := newMessage(chatID, FormatProfileList(profiles))
	if len(profiles) > 0 {
		msg.ReplyMarkup = profileKeyboard(profiles)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send profile list", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleSetActive(ctx context.Context, chatID int64, args string, active bool) {
	usage := "Usage: /pause <id>"
	if active {
		usage = "Usage: /resume <id>"
	}
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, usage)
		return
	}
	u := b.user(ctx, chatID)
	if u == nil {
		return
	}
	p := b.ownedProfile(ctx, chatID, u, id)
	if p == nil {
		return
	}

	p.IsActive = active
	if err := b.store.UpdateProfile(ctx, p); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	verb := "paused"
	if active {
		verb = "resumed"
	}
	b.reply(chatID, fmt.Sprintf("Search #%d \"%s\" %s.", p.ID, p.Name, verb))
}

func (b *Bot) handleRun(ctx context.Context, chatID int64, args string) {
	u := b.user(ctx, chatID)
	if u == nil {
		return
	}

	var criteria []model.SearchCriteria
	if args != "" {
		id, err := ParseIDArg(args)
		if err != nil {
			b.reply(chatID, "Usage: /run [id]")
			return
		}
		p := b.ownedProfile(ctx, chatID, u, id)
		if p == nil {
			return
		}
		criteria = append(criteria, p.Criteria)
	} else {
		profiles, err := b.store.ListProfiles(ctx, u.ID)
		if err != nil {
			b.reply(chatID, fmt.Sprintf("Error: %v", err))
			return
		}
		for _, p := range profiles {
			if p.IsActive {
				criteria = append(criteria, p.Criteria)
			}
		}
	}
	if len(criteria) == 0 {
		b.reply(chatID, "You have no active searches. Use /add to create one.")
		return
	}

	id, err := b.runner.TriggerAsync(ctx, criteria, nil)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to start run: %v", err))
		return
	}
	b.log.Info("manual run", "run_id", id, "user_id", u.ID, "criteria", len(criteria))
	b.reply(chatID, fmt.Sprintf("Run %s started for %d search(es). New matches will arrive as notifications.", id, len(criteria)))
}

func (b *Bot) handleHistory(ctx context.Context, chatID int64) {
	u := b.user(ctx, chatID)
	if u == nil {
		return
	}
	list, err := b.store.ListNotifications(ctx, u.ID, historyLimit)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatNotificationList(list))
}

func (b *Bot) handleStats(ctx context.Context, chatID int64, args string) {
	window := defaultStatsWindow
	if args != "" {
		d, err := time.ParseDuration(args)
		if err != nil || d <= 0 {
			b.reply(chatID, "Usage: /stats [window], e.g. /stats 72h")
			return
		}
		window = d
	}

	st, err := b.store.Statistics(ctx, time.Now().UTC().Add(-window))
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	var snap *scheduler.Snapshot
	if b.state != nil {
		s := b.state.Snapshot()
		snap = &s
	}
	b.reply(chatID, FormatStatistics(st, window, snap))
}
