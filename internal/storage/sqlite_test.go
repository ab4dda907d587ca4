package storage

import (
	"context"
	"testing"
	"time"

	"jobwatch/internal/model"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteUsesInjectedClock(t *testing.T) {
	s := newTestDB(t)
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	l := testListing("clock", "Clocked")
	if _, err := s.UpsertListing(context.Background(), &l); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !l.FirstSeenAt.Equal(fixed) {
		t.Errorf("first_seen_at = %v, want %v", l.FirstSeenAt, fixed)
	}

	n := model.Notification{UserID: 1, ProfileID: 1, ListingID: l.ID, Channel: model.ChannelEmail}
	if _, err := s.InsertNotificationIfAbsent(context.Background(), &n); err != nil {
		t.Fatalf("insert notification: %v", err)
	}
	if !n.CreatedAt.Equal(fixed) {
		t.Errorf("created_at = %v, want %v", n.CreatedAt, fixed)
	}
}

func TestTimeLayoutSortsLexically(t *testing.T) {
	a := time.Date(2026, 1, 1, 0, 0, 0, 500, time.UTC)
	b := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)
	if formatTime(a) >= formatTime(b) {
		t.Errorf("%q should sort before %q", formatTime(a), formatTime(b))
	}
	if got := parseTime(formatTime(a)); !got.Equal(a) {
		t.Errorf("round trip = %v, want %v", got, a)
	}
}
