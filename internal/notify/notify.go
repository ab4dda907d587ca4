// Package notify records and delivers notifications for matched listings.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"jobwatch/internal/model"
	"jobwatch/internal/storage"
)

// ErrNoSender is recorded when a user's channel has no registered sender.
var ErrNoSender = errors.New("no sender for channel")

const defaultTimeout = 30 * time.Second

// Sender delivers one notification over a single channel.
type Sender interface {
	Send(ctx context.Context, n model.Notification, l model.Listing, u model.User) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, n model.Notification, l model.Listing, u model.User) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, n model.Notification, l model.Listing, u model.User) error {
	return f(ctx, n, l, u)
}

// Store is the part of storage.Storage the dispatcher needs.
type Store interface {
	InsertNotificationIfAbsent(ctx context.Context, n *model.Notification) (storage.InsertResult, error)
	UpdateNotification(ctx context.Context, n *model.Notification) error
}

// Dispatcher turns matches into notifications. Each (user, profile,
// listing) triple is recorded at most once; the store's insert-if-absent
// decides which caller delivers it.
type Dispatcher struct {
	store   Store
	senders map[model.Channel]Sender
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher. Every delivery is bounded by timeout.
func NewDispatcher(store Store, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		store:   store,
		senders: make(map[model.Channel]Sender),
		timeout: timeout,
		log:     log,
		now:     time.Now,
	}
}

// Register routes notifications for ch to s. Call before Dispatch.
func (d *Dispatcher) Register(ch model.Channel, s Sender) {
	d.senders[ch] = s
}

// Dispatch records and delivers a notification for each match in order.
// A failed delivery is stored as failed and does not stop the rest.
// Dispatch stops early only when ctx is cancelled; the outcome of a
// delivery already attempted is still recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, matches []model.Match) model.DispatchStats {
	var st model.DispatchStats
	for _, m := range matches {
		if ctx.Err() != nil {
			break
		}
		st.Add(d.dispatchOne(ctx, m))
	}
	return st
}

func (d *Dispatcher) dispatchOne(ctx context.Context, m model.Match) model.DispatchStats {
	channel := m.User.Channel
	if channel == "" {
		channel = model.ChannelEmail
	}
	n := model.Notification{
		UserID:    m.User.ID,
		ProfileID: m.Profile.ID,
		ListingID: m.Listing.ID,
		Channel:   channel,
		Status:    model.StatusPending,
	}
	log := d.log.With("user_id", n.UserID, "profile_id", n.ProfileID, "listing_id", n.ListingID)

	res, err := d.store.InsertNotificationIfAbsent(ctx, &n)
	if err != nil {
		log.Error("insert notification", "error", err)
		return model.DispatchStats{StoreErrors: 1}
	}
	if res == storage.AlreadyExists {
		log.Debug("notification already exists")
		return model.DispatchStats{AlreadyExists: 1}
	}

	var out model.DispatchStats
	if err := d.deliver(ctx, n, m.Listing, m.User); err != nil {
		n.Status = model.StatusFailed
		n.Error = err.Error()
		out.Failed = 1
		log.Warn("deliver notification", "channel", channel, "error", err)
	} else {
		sent := d.now().UTC()
		n.Status = model.StatusSent
		n.SentAt = &sent
		out.Sent = 1
	}

	if err := d.store.UpdateNotification(context.WithoutCancel(ctx), &n); err != nil {
		log.Error("update notification", "status", n.Status, "error", err)
		out.StoreErrors++
	}
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, n model.Notification, l model.Listing, u model.User) error {
	s, ok := d.senders[n.Channel]
	if !ok {
		return fmt.Errorf("%w %q", ErrNoSender, n.Channel)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return s.Send(ctx, n, l, u)
}
