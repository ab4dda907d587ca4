package scraper

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"jobwatch/internal/model"
)

type step struct {
	status int
	body   string
	err    error
}

// mockHTTP replays steps in order, repeating the last one.
type mockHTTP struct {
	mu    sync.Mutex
	steps []step
	reqs  []*http.Request
	times []time.Time
}

func (m *mockHTTP) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := min(len(m.reqs), len(m.steps)-1)
	m.reqs = append(m.reqs, req)
	m.times = append(m.times, time.Now())

	s := m.steps[i]
	if s.err != nil {
		return nil, s.err
	}
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(bytes.NewBufferString(s.body)),
	}, nil
}

func (m *mockHTTP) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs)
}

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return string(data)
}

var testCriteria = model.SearchCriteria{
	Keywords:        []string{"python"},
	JobType:         model.JobTypeAny,
	ExperienceLevel: model.ExperienceAny,
}

func TestFetchRetryPolicy(t *testing.T) {
	feed := loadFixture(t, "weworkremotely.rss")
	netErr := &url.Error{Op: "Get", URL: "https://example.com", Err: errors.New("connection reset")}

	tests := []struct {
		name        string
		steps       []step
		maxRetries  int
		wantCalls   int
		wantErr     bool
		wantStatus  int
		wantRecords int
	}{
		{
			name:        "success first try",
			steps:       []step{{status: 200, body: feed}},
			maxRetries:  3,
			wantCalls:   1,
			wantRecords: 2,
		},
		{
			name:        "server error then success",
			steps:       []step{{status: 503}, {status: 200, body: feed}},
			maxRetries:  3,
			wantCalls:   2,
			wantRecords: 2,
		},
		{
			name:        "network error then success",
			steps:       []step{{err: netErr}, {status: 200, body: feed}},
			maxRetries:  3,
			wantCalls:   2,
			wantRecords: 2,
		},
		{
			name:       "rate limited on every attempt",
			steps:      []step{{status: 429}},
			maxRetries: 3,
			wantCalls:  3,
			wantErr:    true,
			wantStatus: 429,
		},
		{
			name:       "three consecutive failures",
			steps:      []step{{status: 500}, {status: 502}, {status: 504}},
			maxRetries: 3,
			wantCalls:  3,
			wantErr:    true,
			wantStatus: 504,
		},
		{
			name:       "client error is not retried",
			steps:      []step{{status: 404}},
			maxRetries: 3,
			wantCalls:  1,
			wantErr:    true,
			wantStatus: 404,
		},
		{
			name:       "unparseable body is not retried",
			steps:      []step{{status: 200, body: "not a feed"}},
			maxRetries: 3,
			wantCalls:  1,
			wantErr:    true,
		},
		{
			name:       "zero retries means one attempt",
			steps:      []step{{status: 500}, {status: 200, body: feed}},
			maxRetries: 0,
			wantCalls:  1,
			wantErr:    true,
			wantStatus: 500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockHTTP{steps: tt.steps}
			s := NewWeWorkRemotely("", client, Options{MaxRetries: tt.maxRetries})

			records, err := s.Fetch(context.Background(), testCriteria)

			if diff := cmp.Diff(tt.wantCalls, client.calls()); diff != "" {
				t.Errorf("call count mismatch (-want +got):\n%s", diff)
			}
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if diff := cmp.Diff(tt.wantRecords, len(records)); diff != "" {
					t.Errorf("record count mismatch (-want +got):\n%s", diff)
				}
				return
			}

			var ferr *FetchError
			if !errors.As(err, &ferr) {
				t.Fatalf("err = %v, want *FetchError", err)
			}
			if diff := cmp.Diff(model.SourceWeWorkRemotely, ferr.Source); diff != "" {
				t.Errorf("source mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantCalls, ferr.Attempts); diff != "" {
				t.Errorf("attempts mismatch (-want +got):\n%s", diff)
			}
			if tt.wantStatus != 0 {
				var serr *StatusError
				if !errors.As(err, &serr) {
					t.Fatalf("err = %v, want *StatusError", err)
				}
				if diff := cmp.Diff(tt.wantStatus, serr.Code); diff != "" {
					t.Errorf("status mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestFetchEmptyResultIsNotError(t *testing.T) {
	client := &mockHTTP{steps: []step{{status: 200, body: "<html><body><p>No jobs found</p></body></html>"}}}
	s := NewIndeed("", client, Options{MaxRetries: 3})

	records, err := s.Fetch(context.Background(), testCriteria)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("records = %#v, want empty non-nil slice", records)
	}
}

func TestFetchPacesEveryRequest(t *testing.T) {
	feed := loadFixture(t, "weworkremotely.rss")
	client := &mockHTTP{steps: []step{{status: 200, body: feed}}}
	delay := 30 * time.Millisecond
	s := NewWeWorkRemotely("", client, Options{MaxRetries: 3, RequestDelay: delay})

	for range 3 {
		if _, err := s.Fetch(context.Background(), testCriteria); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	for i := 1; i < len(client.times); i++ {
		if gap := client.times[i].Sub(client.times[i-1]); gap < delay-5*time.Millisecond {
			t.Errorf("request %d sent %v after previous, want at least %v", i, gap, delay)
		}
	}
}

func TestFetchStopsOnCancel(t *testing.T) {
	client := &mockHTTP{steps: []step{{status: 503}}}
	s := NewLinkedIn("", client, Options{MaxRetries: 5, RequestDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Fetch(ctx, testCriteria)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not return after cancel")
	}
	if diff := cmp.Diff(1, client.calls()); diff != "" {
		t.Errorf("call count mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchSetsUserAgent(t *testing.T) {
	client := &mockHTTP{steps: []step{{status: 200, body: "<html></html>"}}}
	s := NewLinkedIn("", client, Options{UserAgent: "test-agent"})

	if _, err := s.Fetch(context.Background(), testCriteria); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if diff := cmp.Diff("test-agent", client.reqs[0].Header.Get("User-Agent")); diff != "" {
		t.Errorf("user agent mismatch (-want +got):\n%s", diff)
	}
}
