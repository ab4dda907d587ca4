package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"jobwatch/internal/model"
	"jobwatch/internal/storage"
)

func newStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// recorder is a Sender that remembers every delivery.
type recorder struct {
	mu   sync.Mutex
	sent []int64
	fail map[int64]error
}

func (r *recorder) Send(_ context.Context, n model.Notification, _ model.Listing, _ model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[n.ListingID]; err != nil {
		return err
	}
	r.sent = append(r.sent, n.ListingID)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func newDispatcher(store Store, s Sender) *Dispatcher {
	d := NewDispatcher(store, time.Second, slog.New(slog.DiscardHandler))
	d.Register(model.ChannelEmail, s)
	return d
}

func matchFor(userID, profileID, listingID int64) model.Match {
	return model.Match{
		User:    model.User{ID: userID, Email: "u@example.com", Channel: model.ChannelEmail, IsActive: true},
		Profile: model.SearchProfile{ID: profileID, UserID: userID, IsActive: true},
		Listing: model.Listing{ID: listingID, Title: "Python Engineer"},
	}
}

func TestDispatchTwiceCreatesOneNotification(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	rec := &recorder{}
	d := newDispatcher(store, rec)
	matches := []model.Match{matchFor(1, 5, 42)}

	first := d.Dispatch(ctx, matches)
	if diff := cmp.Diff(model.DispatchStats{Sent: 1}, first); diff != "" {
		t.Errorf("first dispatch mismatch (-want +got):\n%s", diff)
	}
	second := d.Dispatch(ctx, matches)
	if diff := cmp.Diff(model.DispatchStats{AlreadyExists: 1}, second); diff != "" {
		t.Errorf("second dispatch mismatch (-want +got):\n%s", diff)
	}

	list, err := store.ListNotifications(ctx, 1, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("stored %d notifications, want 1", len(list))
	}
	if list[0].Status != model.StatusSent || list[0].SentAt == nil {
		t.Errorf("notification = %+v, want sent with sent_at", list[0])
	}
	if rec.count() != 1 {
		t.Errorf("delivered %d times, want 1", rec.count())
	}
}

func TestDispatchFailureDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	rec := &recorder{fail: map[int64]error{2: errors.New("mailbox full")}}
	d := newDispatcher(store, rec)

	st := d.Dispatch(ctx, []model.Match{matchFor(1, 1, 1), matchFor(1, 1, 2), matchFor(1, 1, 3)})
	if diff := cmp.Diff(model.DispatchStats{Sent: 2, Failed: 1}, st); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	list, err := store.ListNotifications(ctx, 1, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := map[int64]model.NotificationStatus{}
	for _, n := range list {
		got[n.ListingID] = n.Status
		if n.ListingID == 2 && !strings.Contains(n.Error, "mailbox full") {
			t.Errorf("failed notification error = %q, want delivery reason", n.Error)
		}
	}
	want := map[int64]model.NotificationStatus{1: model.StatusSent, 2: model.StatusFailed, 3: model.StatusSent}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchWithoutSenderFails(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	d := newDispatcher(store, &recorder{})
	m := matchFor(1, 1, 1)
	m.User.Channel = model.ChannelTelegram

	st := d.Dispatch(ctx, []model.Match{m})
	if diff := cmp.Diff(model.DispatchStats{Failed: 1}, st); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	list, err := store.ListNotifications(ctx, 1, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || !strings.Contains(list[0].Error, ErrNoSender.Error()) {
		t.Errorf("notifications = %+v, want one failed with missing sender", list)
	}
}

func TestDispatchTimesOutSlowDelivery(t *testing.T) {
	store := newStore(t)
	slow := SenderFunc(func(ctx context.Context, _ model.Notification, _ model.Listing, _ model.User) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d := NewDispatcher(store, 20*time.Millisecond, slog.New(slog.DiscardHandler))
	d.Register(model.ChannelEmail, slow)

	start := time.Now()
	st := d.Dispatch(context.Background(), []model.Match{matchFor(1, 1, 1)})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("dispatch took %v, want bounded by timeout", elapsed)
	}
	if diff := cmp.Diff(model.DispatchStats{Failed: 1}, st); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentDispatchDeliversOnce(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	rec := &recorder{}
	d := newDispatcher(store, rec)
	matches := []model.Match{matchFor(1, 5, 42), matchFor(1, 5, 43), matchFor(2, 6, 42)}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Dispatch(ctx, matches)
		}()
	}
	wg.Wait()

	if rec.count() != len(matches) {
		t.Errorf("delivered %d notifications, want %d", rec.count(), len(matches))
	}
}

func TestEmailSender(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	send := func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}
	cfg := EmailConfig{SMTPHost: "smtp.example.com", SMTPPort: 587, FromEmail: "jobs@example.com"}
	s := NewEmailSenderWith(cfg, send)

	minSal, maxSal := 90000, 120000
	l := model.Listing{
		Title:          "Python Engineer",
		Company:        "Acme",
		Location:       "Remote",
		JobType:        model.JobTypeRemote,
		SalaryMin:      &minSal,
		SalaryMax:      &maxSal,
		SalaryCurrency: "USD",
		Skills:         []string{"Python", "Docker"},
		ApplicationURL: "https://example.com/jobs/1",
		SourceSite:     model.SourceIndeed,
	}
	u := model.User{Name: "Ada", Email: "ada@example.com"}

	if err := s.Send(context.Background(), model.Notification{}, l, u); err != nil {
		t.Fatalf("send: %v", err)
	}
	if diff := cmp.Diff("smtp.example.com:587", gotAddr); diff != "" {
		t.Errorf("addr mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("jobs@example.com", gotFrom); diff != "" {
		t.Errorf("from mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ada@example.com"}, gotTo); diff != "" {
		t.Errorf("to mismatch (-want +got):\n%s", diff)
	}

	subject, parts := readEmail(t, gotMsg)
	if diff := cmp.Diff("New job match: Python Engineer at Acme", subject); diff != "" {
		t.Errorf("subject mismatch (-want +got):\n%s", diff)
	}
	wantParts := map[string][]string{
		"text/plain; charset=UTF-8": {
			"Hi Ada,",
			"Company: Acme\n",
			"Salary: $90,000 - $120,000\n",
			"Skills: Python, Docker\n",
			"Apply: https://example.com/jobs/1\n",
			"Found on indeed.",
		},
		"text/html; charset=UTF-8": {
			"Hi Ada,",
			"Salary: $90,000 - $120,000",
			"Skills: Python, Docker",
			`href="https://example.com/jobs/1"`,
		},
	}
	if diff := cmp.Diff([]string{"text/plain; charset=UTF-8", "text/html; charset=UTF-8"}, partTypes(parts)); diff != "" {
		t.Fatalf("part types mismatch (-want +got):\n%s", diff)
	}
	for _, p := range parts {
		for _, want := range wantParts[p.contentType] {
			if !strings.Contains(p.body, want) {
				t.Errorf("%s part missing %q:\n%s", p.contentType, want, p.body)
			}
		}
	}
}

func TestEmailSenderEncodesSubject(t *testing.T) {
	var gotMsg []byte
	send := func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotMsg = msg
		return nil
	}
	s := NewEmailSenderWith(EmailConfig{SMTPHost: "h", SMTPPort: 25, FromEmail: "f@example.com"}, send)

	l := model.Listing{Title: "Développeur Go", Company: "Société Générale", JobType: model.JobTypeHybrid}
	if err := s.Send(context.Background(), model.Notification{}, l, model.User{Email: "a@example.com"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	raw := string(gotMsg[:strings.Index(string(gotMsg), "\r\n\r\n")])
	if strings.Contains(raw, "é") {
		t.Errorf("headers contain raw non-ASCII text:\n%s", raw)
	}
	subject, parts := readEmail(t, gotMsg)
	if diff := cmp.Diff("New job match: Développeur Go at Société Générale", subject); diff != "" {
		t.Errorf("subject mismatch (-want +got):\n%s", diff)
	}
	if len(parts) != 2 || !strings.Contains(parts[0].body, "Développeur Go") {
		t.Errorf("plain-text part does not carry the title: %+v", parts)
	}
}

type emailPart struct {
	contentType string
	body        string
}

// readEmail parses msg and returns its decoded subject and MIME parts.
func readEmail(t *testing.T, msg []byte) (string, []emailPart) {
	t.Helper()
	m, err := mail.ReadMessage(bytes.NewReader(msg))
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	subject, err := new(mime.WordDecoder).DecodeHeader(m.Header.Get("Subject"))
	if err != nil {
		t.Fatalf("decode subject: %v", err)
	}
	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("parse content type: %v", err)
	}
	if mediaType != "multipart/alternative" {
		t.Fatalf("content type = %q, want multipart/alternative", mediaType)
	}

	var parts []emailPart
	r := multipart.NewReader(m.Body, params["boundary"])
	for {
		p, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next part: %v", err)
		}
		body, err := io.ReadAll(p)
		if err != nil {
			t.Fatalf("read part: %v", err)
		}
		text := strings.ReplaceAll(string(body), "\r\n", "\n")
		parts = append(parts, emailPart{contentType: p.Header.Get("Content-Type"), body: text})
	}
	return subject, parts
}

func partTypes(parts []emailPart) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p.contentType)
	}
	return out
}

func TestEmailSenderErrors(t *testing.T) {
	failing := func(string, smtp.Auth, string, []string, []byte) error { return errors.New("535 auth failed") }
	s := NewEmailSenderWith(EmailConfig{SMTPHost: "h", SMTPPort: 25, FromEmail: "f@example.com"}, failing)

	if err := s.Send(context.Background(), model.Notification{}, model.Listing{Title: "X"}, model.User{}); err == nil {
		t.Error("expected error for user without email")
	}
	err := s.Send(context.Background(), model.Notification{}, model.Listing{Title: "X"}, model.User{Email: "a@example.com"})
	if err == nil || !strings.Contains(err.Error(), "535 auth failed") {
		t.Errorf("err = %v, want transport error", err)
	}
}

func TestFormatSalary(t *testing.T) {
	tests := []struct {
		name     string
		min, max *int
		currency string
		want     string
	}{
		{name: "none", want: ""},
		{name: "range", min: ptr(50000), max: ptr(75000), currency: "USD", want: "$50,000 - $75,000"},
		{name: "single", min: ptr(80000), max: ptr(80000), currency: "EUR", want: "€80,000"},
		{name: "min only", min: ptr(100000), currency: "GBP", want: "from £100,000"},
		{name: "max only", max: ptr(999), want: "up to 999"},
		{name: "unknown currency", min: ptr(1000000), max: ptr(1000000), currency: "CHF", want: "CHF 1,000,000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatSalary(model.Listing{SalaryMin: tt.min, SalaryMax: tt.max, SalaryCurrency: tt.currency})
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("FormatSalary mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func ptr(v int) *int { return &v }
