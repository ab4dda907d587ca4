// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"jobwatch/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// UpsertResult tells whether an upsert created or refreshed a listing.
type UpsertResult int

// Upsert outcomes.
const (
	Inserted UpsertResult = iota + 1
	Updated
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	}
	return "unknown"
}

// InsertResult tells whether an insert-if-absent created a row.
type InsertResult int

// Insert-if-absent outcomes.
const (
	Created InsertResult = iota + 1
	AlreadyExists
)

func (r InsertResult) String() string {
	switch r {
	case Created:
		return "created"
	case AlreadyExists:
		return "already-exists"
	}
	return "unknown"
}

// ListingFilter narrows ListListings. Zero fields match every listing.
type ListingFilter struct {
	Source model.Source
	// Company matches as a case-insensitive substring.
	Company string
	// Limit caps the result; zero or less returns every match.
	Limit int
}

// Storage is the interface for all persistence operations.
//
// UpsertListing and InsertNotificationIfAbsent decide insert versus update
// with a single conditional write per identity key, so concurrent callers
// never both observe a row as absent.
type Storage interface {
	GetListing(ctx context.Context, source model.Source, externalID string) (*model.Listing, error)
	// UpsertListing inserts l or refreshes its non-identity fields. It sets
	// l.ID and l.FirstSeenAt from the stored row.
	UpsertListing(ctx context.Context, l *model.Listing) (UpsertResult, error)
	// ListListings returns listings matching f, most recently scraped first.
	ListListings(ctx context.Context, f ListingFilter) ([]model.Listing, error)
	PruneListings(ctx context.Context, before time.Time) (int64, error)

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByChatID(ctx context.Context, chatID int64) (*model.User, error)
	UpdateUser(ctx context.Context, u *model.User) error

	CreateProfile(ctx context.Context, p *model.SearchProfile) error
	GetProfile(ctx context.Context, id int64) (*model.SearchProfile, error)
	ListProfiles(ctx context.Context, userID int64) ([]model.SearchProfile, error)
	UpdateProfile(ctx context.Context, p *model.SearchProfile) error
	// ListActiveProfiles returns active profiles owned by active users.
	ListActiveProfiles(ctx context.Context) ([]model.ActiveProfile, error)

	// InsertNotificationIfAbsent stores n unless a notification for the same
	// user, profile and listing exists. On Created it sets n.ID and n.CreatedAt.
	InsertNotificationIfAbsent(ctx context.Context, n *model.Notification) (InsertResult, error)
	UpdateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, userID int64, limit int) ([]model.Notification, error)
	PruneNotifications(ctx context.Context, before time.Time) (int64, error)

	Statistics(ctx context.Context, since time.Time) (model.Statistics, error)

	Close() error
}

func newStatistics(since time.Time) model.Statistics {
	return model.Statistics{
		Since:     since,
		BySource:  map[model.Source]int{},
		ByJobType: map[model.JobType]int{},
	}
}
