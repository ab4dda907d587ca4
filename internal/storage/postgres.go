package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"jobwatch/internal/model"
	"jobwatch/migrations"
)

var _ Storage = (*Postgres)(nil)

// Postgres implements Storage on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL, verifies the connection and runs
// pending migrations.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = migrations.Run(db, migrations.DialectPostgres)
	_ = db.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases every pooled connection.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// GetListing returns the listing with the given identity.
func (s *Postgres) GetListing(ctx context.Context, source model.Source, externalID string) (*model.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM job_listings WHERE source_site = $1 AND external_id = $2`,
		string(source), externalID,
	)
	return scanPgListing(row)
}

// ListListings returns listings matching f, most recently scraped first.
func (s *Postgres) ListListings(ctx context.Context, f ListingFilter) ([]model.Listing, error) {
	var limit *int
	if f.Limit > 0 {
		limit = &f.Limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+` FROM job_listings
		 WHERE ($1::text = '' OR source_site = $1)
		   AND ($2::text = '' OR strpos(lower(company), lower($2)) > 0)
		 ORDER BY scraped_at DESC, id DESC LIMIT $3`,
		string(f.Source), f.Company, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var out []model.Listing
	for rows.Next() {
		l, err := scanPgListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return out, nil
}

// UpsertListing inserts l or refreshes the stored row with the same identity.
func (s *Postgres) UpsertListing(ctx context.Context, l *model.Listing) (UpsertResult, error) {
	scraped := l.ScrapedAt
	if scraped.IsZero() {
		scraped = time.Now()
	}
	requirements, skills, metadata := orEmpty(l.Requirements), orEmpty(l.Skills), l.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO job_listings (external_id, source_site, title, company, location, job_type,
			experience_level, salary_min, salary_max, salary_currency, description, requirements,
			skills, application_url, posted_date, scraped_at, first_seen_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now(), $17)
		 ON CONFLICT (source_site, external_id) DO NOTHING
		 RETURNING id, first_seen_at`,
		l.ExternalID, string(l.SourceSite), l.Title, l.Company, l.Location, string(l.JobType),
		string(l.ExperienceLevel), l.SalaryMin, l.SalaryMax, l.SalaryCurrency, l.Description, requirements,
		skills, l.ApplicationURL, l.PostedDate, scraped, metadata,
	).Scan(&l.ID, &l.FirstSeenAt)
	if err == nil {
		return Inserted, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("insert listing: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`UPDATE job_listings SET title = $1, company = $2, location = $3, job_type = $4,
			experience_level = $5, salary_min = $6, salary_max = $7, salary_currency = $8,
			description = $9, requirements = $10, skills = $11, application_url = $12,
			posted_date = $13, scraped_at = $14, metadata = $15
		 WHERE source_site = $16 AND external_id = $17
		 RETURNING id, first_seen_at`,
		l.Title, l.Company, l.Location, string(l.JobType),
		string(l.ExperienceLevel), l.SalaryMin, l.SalaryMax, l.SalaryCurrency,
		l.Description, requirements, skills, l.ApplicationURL,
		l.PostedDate, scraped, metadata,
		string(l.SourceSite), l.ExternalID,
	).Scan(&l.ID, &l.FirstSeenAt)
	if err != nil {
		return 0, fmt.Errorf("update listing: %w", err)
	}
	return Updated, nil
}

// PruneListings deletes listings not scraped since before.
func (s *Postgres) PruneListings(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM job_listings WHERE scraped_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune listings: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateUser inserts a new user and populates its ID and CreatedAt.
func (s *Postgres) CreateUser(ctx context.Context, u *model.User) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, channel, telegram_chat_id, is_active)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		u.Email, u.Name, string(u.Channel), nullChatID(u.TelegramChatID), u.IsActive,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns a single user by its ID.
func (s *Postgres) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return scanPgUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByChatID returns the user linked to a Telegram chat.
func (s *Postgres) GetUserByChatID(ctx context.Context, chatID int64) (*model.User, error) {
	return scanPgUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_chat_id = $1`, chatID))
}

// UpdateUser persists changes to an existing user.
func (s *Postgres) UpdateUser(ctx context.Context, u *model.User) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET email = $1, name = $2, channel = $3, telegram_chat_id = $4, is_active = $5
		 WHERE id = $6`,
		u.Email, u.Name, string(u.Channel), nullChatID(u.TelegramChatID), u.IsActive, u.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateProfile validates and inserts a search profile.
func (s *Postgres) CreateProfile(ctx context.Context, p *model.SearchProfile) error {
	p.Criteria = p.Criteria.WithDefaults()
	if err := p.Criteria.Validate(); err != nil {
		return fmt.Errorf("invalid criteria: %w", err)
	}
	c := p.Criteria
	err := s.pool.QueryRow(ctx,
		`INSERT INTO search_profiles (user_id, name, keywords, location, job_type, experience_level,
			salary_min, salary_max, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id, created_at`,
		p.UserID, p.Name, c.Keywords, c.Location, string(c.JobType), string(c.ExperienceLevel),
		c.SalaryMin, c.SalaryMax, p.IsActive,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// GetProfile returns a single profile by its ID.
func (s *Postgres) GetProfile(ctx context.Context, id int64) (*model.SearchProfile, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM search_profiles p WHERE p.id = $1`, id)
	p, err := scanPgProfile(row)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles returns all profiles belonging to the given user.
func (s *Postgres) ListProfiles(ctx context.Context, userID int64) ([]model.SearchProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM search_profiles p WHERE p.user_id = $1 ORDER BY p.id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []model.SearchProfile
	for rows.Next() {
		p, err := scanPgProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// UpdateProfile persists changes to an existing profile.
func (s *Postgres) UpdateProfile(ctx context.Context, p *model.SearchProfile) error {
	p.Criteria = p.Criteria.WithDefaults()
	if err := p.Criteria.Validate(); err != nil {
		return fmt.Errorf("invalid criteria: %w", err)
	}
	c := p.Criteria
	tag, err := s.pool.Exec(ctx,
		`UPDATE search_profiles SET name = $1, keywords = $2, location = $3, job_type = $4,
			experience_level = $5, salary_min = $6, salary_max = $7, is_active = $8
		 WHERE id = $9`,
		p.Name, c.Keywords, c.Location, string(c.JobType),
		string(c.ExperienceLevel), c.SalaryMin, c.SalaryMax, p.IsActive, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveProfiles returns active profiles joined with their active owners.
func (s *Postgres) ListActiveProfiles(ctx context.Context) ([]model.ActiveProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+`,
			u.id, u.email, u.name, u.channel, u.telegram_chat_id, u.is_active, u.created_at
		 FROM search_profiles p
		 JOIN users u ON u.id = p.user_id
		 WHERE p.is_active AND u.is_active
		 ORDER BY p.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active profiles: %w", err)
	}
	defer rows.Close()

	var out []model.ActiveProfile
	for rows.Next() {
		var ap model.ActiveProfile
		var chatID *int64
		p, u := &ap.Profile, &ap.User
		err := rows.Scan(
			&p.ID, &p.UserID, &p.Name, &p.Criteria.Keywords, &p.Criteria.Location, &p.Criteria.JobType,
			&p.Criteria.ExperienceLevel, &p.Criteria.SalaryMin, &p.Criteria.SalaryMax, &p.IsActive, &p.CreatedAt,
			&u.ID, &u.Email, &u.Name, &u.Channel, &chatID, &u.IsActive, &u.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan active profile: %w", err)
		}
		if chatID != nil {
			u.TelegramChatID = *chatID
		}
		out = append(out, ap)
	}
	return out, rows.Err()
}

// InsertNotificationIfAbsent stores n unless its (user, profile, listing)
// triple already exists.
func (s *Postgres) InsertNotificationIfAbsent(ctx context.Context, n *model.Notification) (InsertResult, error) {
	status := n.Status
	if status == "" {
		status = model.StatusPending
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO notifications (user_id, profile_id, listing_id, channel, status, error)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, profile_id, listing_id) DO NOTHING
		 RETURNING id, created_at`,
		n.UserID, n.ProfileID, n.ListingID, string(n.Channel), string(status), n.Error,
	).Scan(&n.ID, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return AlreadyExists, nil
	}
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	n.Status = status
	return Created, nil
}

// UpdateNotification records the delivery outcome of n.
func (s *Postgres) UpdateNotification(ctx context.Context, n *model.Notification) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET status = $1, error = $2, sent_at = $3 WHERE id = $4`,
		string(n.Status), n.Error, n.SentAt, n.ID,
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListNotifications returns the newest notifications of a user.
func (s *Postgres) ListNotifications(ctx context.Context, userID int64, limit int) ([]model.Notification, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, profile_id, listing_id, channel, status, error, created_at, sent_at
		 FROM notifications WHERE user_id = $1 ORDER BY id DESC LIMIT $2`, userID, lim,
	)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		err := rows.Scan(&n.ID, &n.UserID, &n.ProfileID, &n.ListingID, &n.Channel, &n.Status, &n.Error, &n.CreatedAt, &n.SentAt)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// PruneNotifications deletes notifications created before the cutoff.
func (s *Postgres) PruneNotifications(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Statistics aggregates listings first seen and notifications created since
// the given time.
func (s *Postgres) Statistics(ctx context.Context, since time.Time) (model.Statistics, error) {
	st := newStatistics(since)

	rows, err := s.pool.Query(ctx,
		`SELECT source_site, job_type, COUNT(*) FROM job_listings
		 WHERE first_seen_at >= $1 GROUP BY source_site, job_type`, since,
	)
	if err != nil {
		return st, fmt.Errorf("query listing stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source, jobType string
		var n int
		if err := rows.Scan(&source, &jobType, &n); err != nil {
			return st, fmt.Errorf("scan listing stats: %w", err)
		}
		st.TotalListings += n
		st.BySource[model.Source(source)] += n
		st.ByJobType[model.JobType(jobType)] += n
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("iterate listing stats: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed')
		 FROM notifications WHERE created_at >= $1`, since,
	).Scan(&st.Matches, &st.NotificationsSent, &st.NotificationsFailed)
	if err != nil {
		return st, fmt.Errorf("query notification stats: %w", err)
	}
	return st, nil
}

func scanPgListing(row pgx.Row) (*model.Listing, error) {
	var l model.Listing
	err := row.Scan(
		&l.ID, &l.ExternalID, &l.SourceSite, &l.Title, &l.Company, &l.Location, &l.JobType,
		&l.ExperienceLevel, &l.SalaryMin, &l.SalaryMax, &l.SalaryCurrency, &l.Description, &l.Requirements,
		&l.Skills, &l.ApplicationURL, &l.PostedDate, &l.ScrapedAt, &l.FirstSeenAt, &l.Metadata,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	if len(l.Requirements) == 0 {
		l.Requirements = nil
	}
	if len(l.Skills) == 0 {
		l.Skills = nil
	}
	if len(l.Metadata) == 0 {
		l.Metadata = nil
	}
	return &l, nil
}

func scanPgUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var chatID *int64
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Channel, &chatID, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if chatID != nil {
		u.TelegramChatID = *chatID
	}
	return &u, nil
}

func scanPgProfile(row pgx.Row) (model.SearchProfile, error) {
	var p model.SearchProfile
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.Criteria.Keywords, &p.Criteria.Location, &p.Criteria.JobType,
		&p.Criteria.ExperienceLevel, &p.Criteria.SalaryMin, &p.Criteria.SalaryMax, &p.IsActive, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, fmt.Errorf("scan profile: %w", err)
	}
	return p, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
