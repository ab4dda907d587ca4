package bot

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"jobwatch/internal/model"
	"jobwatch/internal/scheduler"
)

func intPtr(v int) *int { return &v }

func TestParseProfileCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    ProfileArgs
		wantErr bool
	}{
		{
			name: "single keyword",
			args: "golang",
			want: ProfileArgs{Name: "golang", Criteria: model.SearchCriteria{
				Keywords: []string{"golang"}, JobType: model.JobTypeAny, ExperienceLevel: model.ExperienceAny,
			}},
		},
		{
			name: "multi-word keywords",
			args: "machine learning, python",
			want: ProfileArgs{Name: "machine learning, python", Criteria: model.SearchCriteria{
				Keywords: []string{"machine learning", "python"}, JobType: model.JobTypeAny, ExperienceLevel: model.ExperienceAny,
			}},
		},
		{
			name: "all flags",
			args: "go -l New York -t hybrid -e senior -s 120k-180000",
			want: ProfileArgs{Name: "go", Criteria: model.SearchCriteria{
				Keywords:        []string{"go"},
				Location:        "New York",
				JobType:         model.JobTypeHybrid,
				ExperienceLevel: model.ExperienceSenior,
				SalaryMin:       intPtr(120000),
				SalaryMax:       intPtr(180000),
			}},
		},
		{
			name: "max salary only",
			args: "rust -s -90k",
			want: ProfileArgs{Name: "rust", Criteria: model.SearchCriteria{
				Keywords: []string{"rust"}, JobType: model.JobTypeAny, ExperienceLevel: model.ExperienceAny,
				SalaryMax: intPtr(90000),
			}},
		},
		{name: "empty args", args: "", wantErr: true},
		{name: "only flags", args: "-t remote", wantErr: true},
		{name: "only commas", args: " , ,", wantErr: true},
		{name: "invalid type", args: "go -t office", wantErr: true},
		{name: "invalid level", args: "go -e guru", wantErr: true},
		{name: "invalid salary", args: "go -s lots", wantErr: true},
		{name: "inverted salary", args: "go -s 150k-80k", wantErr: true},
		{name: "repeated flag", args: "go -t remote -t onsite", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProfileCommand(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSalaryRange(t *testing.T) {
	tests := []struct {
		in       string
		min, max *int
		wantErr  bool
	}{
		{in: "80000-150000", min: intPtr(80000), max: intPtr(150000)},
		{in: "80k-", min: intPtr(80000)},
		{in: "-120K", max: intPtr(120000)},
		{in: "95000", min: intPtr(95000)},
		{in: "-", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "10-x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lo, hi, err := ParseSalaryRange(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.min, lo); diff != "" {
				t.Errorf("min mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.max, hi); diff != "" {
				t.Errorf("max mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseIDArg(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    int64
		wantErr bool
	}{
		{name: "valid", args: "42", want: 42},
		{name: "with hash", args: "#7", want: 7},
		{name: "with whitespace", args: "  7  ", want: 7},
		{name: "empty", args: "", wantErr: true},
		{name: "not a number", args: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIDArg(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatListing(t *testing.T) {
	tests := []struct {
		name    string
		listing model.Listing
		want    string
	}{
		{
			name: "full listing",
			listing: model.Listing{
				SourceSite:     model.SourceIndeed,
				Title:          "Python Engineer",
				Company:        "Acme",
				Location:       "Remote",
				JobType:        model.JobTypeRemote,
				SalaryMin:      intPtr(90000),
				SalaryMax:      intPtr(120000),
				SalaryCurrency: "USD",
				Skills:         []string{"Python", "Docker"},
				Description:    "Build data pipelines.",
				ApplicationURL: "https://example.com/jobs/1",
			},
			want: "[indeed]\n\nPython Engineer\nAcme\nRemote · remote\nSalary: $90,000 - $120,000\nSkills: Python, Docker\n\nBuild data pipelines.\n\nhttps://example.com/jobs/1",
		},
		{
			name:    "title only",
			listing: model.Listing{SourceSite: model.SourceLinkedIn, Title: "Go Developer"},
			want:    "[linkedin]\n\nGo Developer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatListing(tt.listing)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatProfileList(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		want := "You have no searches yet. Use /add <keywords> to create one."
		if diff := cmp.Diff(want, FormatProfileList(nil)); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("profiles", func(t *testing.T) {
		profiles := []model.SearchProfile{
			{ID: 1, Name: "go", IsActive: true, Criteria: model.SearchCriteria{Keywords: []string{"go"}, JobType: model.JobTypeRemote}},
			{ID: 2, Name: "data", Criteria: model.SearchCriteria{Keywords: []string{"sql", "dbt"}, Location: "Berlin", SalaryMin: intPtr(60000)}},
		}
		want := "Your searches:\n" +
			"\n#1 go [active]\n   Keywords: go\n   Type: remote\n" +
			"\n#2 data [paused]\n   Keywords: sql, dbt\n   Location: Berlin\n   Salary: from 60,000\n"
		if diff := cmp.Diff(want, FormatProfileList(profiles)); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestFormatStatistics(t *testing.T) {
	st := model.Statistics{
		TotalListings:       5,
		BySource:            map[model.Source]int{model.SourceLinkedIn: 3, model.SourceIndeed: 2},
		ByJobType:           map[model.JobType]int{model.JobTypeRemote: 4, model.JobTypeOnsite: 1},
		Matches:             4,
		NotificationsSent:   3,
		NotificationsFailed: 1,
	}
	snap := &scheduler.Snapshot{
		Phase:    scheduler.PhaseStopped,
		Interval: "30m0s",
		LastRun: &model.RunStats{
			Status:    model.RunPartial,
			StartedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
			Sources:   map[model.Source]model.SourceStats{model.SourceLinkedIn: {New: 2}},
		},
	}

	want := "Last 24h0m0s:\n" +
		"New listings: 5\n" +
		"   indeed: 2\n" +
		"   linkedin: 3\n" +
		"   onsite: 1\n" +
		"   remote: 4\n" +
		"Matches: 4\n" +
		"Notifications: 3 sent, 1 failed\n" +
		"\nScheduler: stopped (every 30m0s)" +
		"\nLast run: 2026-03-10 12:00 UTC, partial, 2 new"
	if diff := cmp.Diff(want, FormatStatistics(st, 24*time.Hour, snap)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
