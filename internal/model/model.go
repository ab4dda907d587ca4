// Package model defines the domain types used across the application.
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JobType classifies where a job is performed.
type JobType string

// Supported job types. JobTypeAny is only valid in search criteria.
const (
	JobTypeRemote JobType = "remote"
	JobTypeHybrid JobType = "hybrid"
	JobTypeOnsite JobType = "onsite"
	JobTypeAny    JobType = "any"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeRemote, JobTypeHybrid, JobTypeOnsite, JobTypeAny:
		return true
	}
	return false
}

// ExperienceLevel classifies the seniority a job asks for.
type ExperienceLevel string

// Supported experience levels. ExperienceAny is only valid in search criteria.
const (
	ExperienceEntry  ExperienceLevel = "entry"
	ExperienceMid    ExperienceLevel = "mid"
	ExperienceSenior ExperienceLevel = "senior"
	ExperienceAny    ExperienceLevel = "any"
)

// Valid reports whether l is a known experience level.
func (l ExperienceLevel) Valid() bool {
	switch l {
	case ExperienceEntry, ExperienceMid, ExperienceSenior, ExperienceAny:
		return true
	}
	return false
}

// Source identifies an external job site.
type Source string

// Known sources.
const (
	SourceLinkedIn       Source = "linkedin"
	SourceIndeed         Source = "indeed"
	SourceWeWorkRemotely Source = "weworkremotely"
)

// Channel is the delivery channel a user receives notifications on.
type Channel string

// Supported channels.
const (
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
)

// NotificationStatus is the delivery state of a notification.
type NotificationStatus string

// Notification states.
const (
	StatusPending NotificationStatus = "pending"
	StatusSent    NotificationStatus = "sent"
	StatusFailed  NotificationStatus = "failed"
)

// SearchCriteria is the query passed to scrapers and embedded in profiles.
type SearchCriteria struct {
	Keywords        []string        `json:"keywords" yaml:"keywords"`
	Location        string          `json:"location,omitempty" yaml:"location"`
	JobType         JobType         `json:"job_type" yaml:"job_type"`
	ExperienceLevel ExperienceLevel `json:"experience_level" yaml:"experience_level"`
	SalaryMin       *int            `json:"salary_min,omitempty" yaml:"salary_min"`
	SalaryMax       *int            `json:"salary_max,omitempty" yaml:"salary_max"`
}

// Validation errors for SearchCriteria.
var (
	ErrNoKeywords     = errors.New("at least one keyword is required")
	ErrSalaryRange    = errors.New("salary_min must not exceed salary_max")
	ErrUnknownJobType = errors.New("unknown job type")
	ErrUnknownLevel   = errors.New("unknown experience level")
)

// WithDefaults returns a copy with empty enums set to "any".
func (c SearchCriteria) WithDefaults() SearchCriteria {
	if c.JobType == "" {
		c.JobType = JobTypeAny
	}
	if c.ExperienceLevel == "" {
		c.ExperienceLevel = ExperienceAny
	}
	return c
}

// Validate checks the criteria invariants.
func (c SearchCriteria) Validate() error {
	hasKeyword := false
	for _, k := range c.Keywords {
		if strings.TrimSpace(k) != "" {
			hasKeyword = true
			break
		}
	}
	if !hasKeyword {
		return ErrNoKeywords
	}
	if !c.JobType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownJobType, c.JobType)
	}
	if !c.ExperienceLevel.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownLevel, c.ExperienceLevel)
	}
	if c.SalaryMin != nil && c.SalaryMax != nil && *c.SalaryMin > *c.SalaryMax {
		return ErrSalaryRange
	}
	return nil
}

// Key returns a canonical representation used to collapse equal criteria.
func (c SearchCriteria) Key() string {
	kws := make([]string, 0, len(c.Keywords))
	for _, k := range c.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kws = append(kws, k)
		}
	}
	return strings.Join([]string{
		strings.Join(kws, ","),
		strings.ToLower(strings.TrimSpace(c.Location)),
		string(c.JobType),
		string(c.ExperienceLevel),
		optInt(c.SalaryMin),
		optInt(c.SalaryMax),
	}, "|")
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// User receives notifications for the search profiles it owns.
type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Channel        Channel   `json:"channel"`
	TelegramChatID int64     `json:"telegram_chat_id,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// SearchProfile is a saved search owned by one user.
type SearchProfile struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id"`
	Name      string         `json:"name"`
	Criteria  SearchCriteria `json:"criteria"`
	IsActive  bool           `json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
}

// ActiveProfile joins an active profile with its owner.
type ActiveProfile struct {
	Profile SearchProfile
	User    User
}

// Listing is the canonical normalized job posting.
type Listing struct {
	ID              int64             `json:"id"`
	ExternalID      string            `json:"external_id"`
	SourceSite      Source            `json:"source_site"`
	Title           string            `json:"title"`
	Company         string            `json:"company"`
	Location        string            `json:"location"`
	JobType         JobType           `json:"job_type"`
	ExperienceLevel ExperienceLevel   `json:"experience_level,omitempty"`
	SalaryMin       *int              `json:"salary_min,omitempty"`
	SalaryMax       *int              `json:"salary_max,omitempty"`
	SalaryCurrency  string            `json:"salary_currency,omitempty"`
	Description     string            `json:"description"`
	Requirements    []string          `json:"requirements"`
	Skills          []string          `json:"skills"`
	ApplicationURL  string            `json:"application_url"`
	PostedDate      *time.Time        `json:"posted_date,omitempty"`
	ScrapedAt       time.Time         `json:"scraped_at"`
	FirstSeenAt     time.Time         `json:"first_seen_at"`
	Metadata        map[string]string `json:"source_metadata,omitempty"`
}

// Notification links a user, one of their profiles and a matched listing.
type Notification struct {
	ID        int64              `json:"id"`
	UserID    int64              `json:"user_id"`
	ProfileID int64              `json:"profile_id"`
	ListingID int64              `json:"listing_id"`
	Channel   Channel            `json:"channel"`
	Status    NotificationStatus `json:"status"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	SentAt    *time.Time         `json:"sent_at,omitempty"`
}

// Match is a profile that accepted a listing.
type Match struct {
	Profile SearchProfile
	User    User
	Listing Listing
}

// Statistics aggregates store counts over a time window.
type Statistics struct {
	Since               time.Time       `json:"since"`
	TotalListings       int             `json:"total_listings"`
	BySource            map[Source]int  `json:"by_source"`
	ByJobType           map[JobType]int `json:"by_job_type"`
	Matches             int             `json:"matches"`
	NotificationsSent   int             `json:"notifications_sent"`
	NotificationsFailed int             `json:"notifications_failed"`
}

// RawRecord is a listing as scraped from a source, before normalization.
type RawRecord struct {
	ExternalID  string
	Title       string
	Company     string
	Location    string
	Description string
	SalaryText  string
	JobTypeText string
	URL         string
	PostedText  string
	PostedAt    *time.Time
	Metadata    map[string]string
}
