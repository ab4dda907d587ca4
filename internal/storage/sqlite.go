package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"jobwatch/internal/model"
	"jobwatch/migrations"
)

// Fixed width so that text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var _ Storage = (*SQLite)(nil)

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db, migrations.DialectSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const listingColumns = `id, external_id, source_site, title, company, location, job_type,
	experience_level, salary_min, salary_max, salary_currency, description, requirements,
	skills, application_url, posted_date, scraped_at, first_seen_at, metadata`

// GetListing returns the listing with the given identity.
func (s *SQLite) GetListing(ctx context.Context, source model.Source, externalID string) (*model.Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM job_listings WHERE source_site = ? AND external_id = ?`,
		string(source), externalID,
	)
	return scanListing(row)
}

// ListListings returns listings matching f, most recently scraped first.
func (s *SQLite) ListListings(ctx context.Context, f ListingFilter) ([]model.Listing, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM job_listings
		 WHERE (?1 = '' OR source_site = ?1)
		   AND (?2 = '' OR instr(lower(company), lower(?2)) > 0)
		 ORDER BY scraped_at DESC, id DESC LIMIT ?3`,
		string(f.Source), f.Company, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
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
func (s *SQLite) UpsertListing(ctx context.Context, l *model.Listing) (UpsertResult, error) {
	requirements, skills, metadata, err := encodeListingJSON(l)
	if err != nil {
		return 0, err
	}
	now := formatTime(s.now())
	scraped := now
	if !l.ScrapedAt.IsZero() {
		scraped = formatTime(l.ScrapedAt)
	}

	var firstSeen string
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO job_listings (external_id, source_site, title, company, location, job_type,
			experience_level, salary_min, salary_max, salary_currency, description, requirements,
			skills, application_url, posted_date, scraped_at, first_seen_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source_site, external_id) DO NOTHING
		 RETURNING id, first_seen_at`,
		l.ExternalID, string(l.SourceSite), l.Title, l.Company, l.Location, string(l.JobType),
		string(l.ExperienceLevel), l.SalaryMin, l.SalaryMax, l.SalaryCurrency, l.Description, requirements,
		skills, l.ApplicationURL, formatTimePtr(l.PostedDate), scraped, now, metadata,
	).Scan(&l.ID, &firstSeen)
	if err == nil {
		l.FirstSeenAt = parseTime(firstSeen)
		return Inserted, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("insert listing: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`UPDATE job_listings SET title = ?, company = ?, location = ?, job_type = ?,
			experience_level = ?, salary_min = ?, salary_max = ?, salary_currency = ?,
			description = ?, requirements = ?, skills = ?, application_url = ?, posted_date = ?,
			scraped_at = ?, metadata = ?
		 WHERE source_site = ? AND external_id = ?
		 RETURNING id, first_seen_at`,
		l.Title, l.Company, l.Location, string(l.JobType),
		string(l.ExperienceLevel), l.SalaryMin, l.SalaryMax, l.SalaryCurrency,
		l.Description, requirements, skills, l.ApplicationURL, formatTimePtr(l.PostedDate),
		scraped, metadata,
		string(l.SourceSite), l.ExternalID,
	).Scan(&l.ID, &firstSeen)
	if err != nil {
		return 0, fmt.Errorf("update listing: %w", err)
	}
	l.FirstSeenAt = parseTime(firstSeen)
	return Updated, nil
}

// PruneListings deletes listings not scraped since before.
func (s *SQLite) PruneListings(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_listings WHERE scraped_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune listings: %w", err)
	}
	return res.RowsAffected()
}

// CreateUser inserts a new user and populates its ID and CreatedAt.
func (s *SQLite) CreateUser(ctx context.Context, u *model.User) error {
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, name, channel, telegram_chat_id, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.Email, u.Name, string(u.Channel), nullChatID(u.TelegramChatID), boolToInt(u.IsActive), now,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	u.ID = id
	u.CreatedAt = parseTime(now)
	return nil
}

const userColumns = `id, email, name, channel, telegram_chat_id, is_active, created_at`

// GetUser returns a single user by its ID.
func (s *SQLite) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByChatID returns the user linked to a Telegram chat.
func (s *SQLite) GetUserByChatID(ctx context.Context, chatID int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_chat_id = ?`, chatID)
	return scanUser(row)
}

// UpdateUser persists changes to an existing user.
func (s *SQLite) UpdateUser(ctx context.Context, u *model.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email = ?, name = ?, channel = ?, telegram_chat_id = ?, is_active = ?
		 WHERE id = ?`,
		u.Email, u.Name, string(u.Channel), nullChatID(u.TelegramChatID), boolToInt(u.IsActive), u.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return expectOne(res)
}

// CreateProfile validates and inserts a search profile.
func (s *SQLite) CreateProfile(ctx context.Context, p *model.SearchProfile) error {
	p.Criteria = p.Criteria.WithDefaults()
	if err := p.Criteria.Validate(); err != nil {
		return fmt.Errorf("invalid criteria: %w", err)
	}
	keywords, err := json.Marshal(p.Criteria.Keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	now := formatTime(s.now())
	c := p.Criteria
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO search_profiles (user_id, name, keywords, location, job_type, experience_level,
			salary_min, salary_max, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Name, string(keywords), c.Location, string(c.JobType), string(c.ExperienceLevel),
		c.SalaryMin, c.SalaryMax, boolToInt(p.IsActive), now,
	)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	p.ID = id
	p.CreatedAt = parseTime(now)
	return nil
}

const profileColumns = `p.id, p.user_id, p.name, p.keywords, p.location, p.job_type,
	p.experience_level, p.salary_min, p.salary_max, p.is_active, p.created_at`

// GetProfile returns a single profile by its ID.
func (s *SQLite) GetProfile(ctx context.Context, id int64) (*model.SearchProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM search_profiles p WHERE p.id = ?`, id)
	p, err := scanProfile(row)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles returns all profiles belonging to the given user.
func (s *SQLite) ListProfiles(ctx context.Context, userID int64) ([]model.SearchProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM search_profiles p WHERE p.user_id = ? ORDER BY p.id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []model.SearchProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// UpdateProfile persists changes to an existing profile.
func (s *SQLite) UpdateProfile(ctx context.Context, p *model.SearchProfile) error {
	p.Criteria = p.Criteria.WithDefaults()
	if err := p.Criteria.Validate(); err != nil {
		return fmt.Errorf("invalid criteria: %w", err)
	}
	keywords, err := json.Marshal(p.Criteria.Keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	c := p.Criteria
	res, err := s.db.ExecContext(ctx,
		`UPDATE search_profiles SET name = ?, keywords = ?, location = ?, job_type = ?,
			experience_level = ?, salary_min = ?, salary_max = ?, is_active = ?
		 WHERE id = ?`,
		p.Name, string(keywords), c.Location, string(c.JobType),
		string(c.ExperienceLevel), c.SalaryMin, c.SalaryMax, boolToInt(p.IsActive), p.ID,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return expectOne(res)
}

// ListActiveProfiles returns active profiles joined with their active owners.
func (s *SQLite) ListActiveProfiles(ctx context.Context) ([]model.ActiveProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+`,
			u.id, u.email, u.name, u.channel, u.telegram_chat_id, u.is_active, u.created_at
		 FROM search_profiles p
		 JOIN users u ON u.id = p.user_id
		 WHERE p.is_active = 1 AND u.is_active = 1
		 ORDER BY p.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ActiveProfile
	for rows.Next() {
		var (
			ap                         model.ActiveProfile
			keywords, created, uCreate string
			chatID                     sql.NullInt64
			pActive, uActive           int
		)
		p, u := &ap.Profile, &ap.User
		err := rows.Scan(
			&p.ID, &p.UserID, &p.Name, &keywords, &p.Criteria.Location, &p.Criteria.JobType,
			&p.Criteria.ExperienceLevel, &p.Criteria.SalaryMin, &p.Criteria.SalaryMax, &pActive, &created,
			&u.ID, &u.Email, &u.Name, &u.Channel, &chatID, &uActive, &uCreate,
		)
		if err != nil {
			return nil, fmt.Errorf("scan active profile: %w", err)
		}
		if err := json.Unmarshal([]byte(keywords), &p.Criteria.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords: %w", err)
		}
		p.IsActive = pActive == 1
		p.CreatedAt = parseTime(created)
		u.TelegramChatID = chatID.Int64
		u.IsActive = uActive == 1
		u.CreatedAt = parseTime(uCreate)
		out = append(out, ap)
	}
	return out, rows.Err()
}

// InsertNotificationIfAbsent stores n unless its (user, profile, listing)
// triple already exists.
func (s *SQLite) InsertNotificationIfAbsent(ctx context.Context, n *model.Notification) (InsertResult, error) {
	status := n.Status
	if status == "" {
		status = model.StatusPending
	}
	now := formatTime(s.now())
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO notifications (user_id, profile_id, listing_id, channel, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, profile_id, listing_id) DO NOTHING
		 RETURNING id`,
		n.UserID, n.ProfileID, n.ListingID, string(n.Channel), string(status), n.Error, now,
	).Scan(&n.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return AlreadyExists, nil
	}
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	n.Status = status
	n.CreatedAt = parseTime(now)
	return Created, nil
}

// UpdateNotification records the delivery outcome of n.
func (s *SQLite) UpdateNotification(ctx context.Context, n *model.Notification) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, error = ?, sent_at = ? WHERE id = ?`,
		string(n.Status), n.Error, formatTimePtr(n.SentAt), n.ID,
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	return expectOne(res)
}

// ListNotifications returns the newest notifications of a user.
func (s *SQLite) ListNotifications(ctx context.Context, userID int64, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, profile_id, listing_id, channel, status, error, created_at, sent_at
		 FROM notifications WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var created string
		var sent sql.NullString
		err := rows.Scan(&n.ID, &n.UserID, &n.ProfileID, &n.ListingID, &n.Channel, &n.Status, &n.Error, &created, &sent)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.CreatedAt = parseTime(created)
		n.SentAt = parseNullTime(sent)
		out = append(out, n)
	}
	return out, rows.Err()
}

// PruneNotifications deletes notifications created before the cutoff.
func (s *SQLite) PruneNotifications(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE created_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune notifications: %w", err)
	}
	return res.RowsAffected()
}

// Statistics aggregates listings first seen and notifications created since
// the given time.
func (s *SQLite) Statistics(ctx context.Context, since time.Time) (model.Statistics, error) {
	st := newStatistics(since)
	from := formatTime(since)

	rows, err := s.db.QueryContext(ctx,
		`SELECT source_site, job_type, COUNT(*) FROM job_listings
		 WHERE first_seen_at >= ? GROUP BY source_site, job_type`, from,
	)
	if err != nil {
		return st, fmt.Errorf("query listing stats: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var source model.Source
		var jobType model.JobType
		var n int
		if err := rows.Scan(&source, &jobType, &n); err != nil {
			return st, fmt.Errorf("scan listing stats: %w", err)
		}
		st.TotalListings += n
		st.BySource[source] += n
		st.ByJobType[jobType] += n
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("iterate listing stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		 FROM notifications WHERE created_at >= ?`, from,
	).Scan(&st.Matches, &st.NotificationsSent, &st.NotificationsFailed)
	if err != nil {
		return st, fmt.Errorf("query notification stats: %w", err)
	}
	return st, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanListing(row scannable) (*model.Listing, error) {
	var l model.Listing
	var requirements, skills, metadata, scraped, firstSeen string
	var posted sql.NullString
	err := row.Scan(
		&l.ID, &l.ExternalID, &l.SourceSite, &l.Title, &l.Company, &l.Location, &l.JobType,
		&l.ExperienceLevel, &l.SalaryMin, &l.SalaryMax, &l.SalaryCurrency, &l.Description, &requirements,
		&skills, &l.ApplicationURL, &posted, &scraped, &firstSeen, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	if err := decodeListingJSON(&l, requirements, skills, metadata); err != nil {
		return nil, err
	}
	l.PostedDate = parseNullTime(posted)
	l.ScrapedAt = parseTime(scraped)
	l.FirstSeenAt = parseTime(firstSeen)
	return &l, nil
}

func scanUser(row scannable) (*model.User, error) {
	var u model.User
	var chatID sql.NullInt64
	var isActive int
	var created string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Channel, &chatID, &isActive, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.TelegramChatID = chatID.Int64
	u.IsActive = isActive == 1
	u.CreatedAt = parseTime(created)
	return &u, nil
}

func scanProfile(row scannable) (model.SearchProfile, error) {
	var p model.SearchProfile
	var keywords, created string
	var isActive int
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &keywords, &p.Criteria.Location, &p.Criteria.JobType,
		&p.Criteria.ExperienceLevel, &p.Criteria.SalaryMin, &p.Criteria.SalaryMax, &isActive, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, fmt.Errorf("scan profile: %w", err)
	}
	if err := json.Unmarshal([]byte(keywords), &p.Criteria.Keywords); err != nil {
		return p, fmt.Errorf("decode keywords: %w", err)
	}
	p.IsActive = isActive == 1
	p.CreatedAt = parseTime(created)
	return p, nil
}

func encodeListingJSON(l *model.Listing) (requirements, skills, metadata string, err error) {
	enc := func(v any, empty string) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		if string(b) == "null" {
			return empty, nil
		}
		return string(b), nil
	}
	if requirements, err = enc(l.Requirements, "[]"); err != nil {
		return "", "", "", fmt.Errorf("encode requirements: %w", err)
	}
	if skills, err = enc(l.Skills, "[]"); err != nil {
		return "", "", "", fmt.Errorf("encode skills: %w", err)
	}
	if metadata, err = enc(l.Metadata, "{}"); err != nil {
		return "", "", "", fmt.Errorf("encode metadata: %w", err)
	}
	return requirements, skills, metadata, nil
}

func decodeListingJSON(l *model.Listing, requirements, skills, metadata string) error {
	if err := json.Unmarshal([]byte(requirements), &l.Requirements); err != nil {
		return fmt.Errorf("decode requirements: %w", err)
	}
	if err := json.Unmarshal([]byte(skills), &l.Skills); err != nil {
		return fmt.Errorf("decode skills: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &l.Metadata); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
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
	return nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullChatID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
