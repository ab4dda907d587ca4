// Package normalize converts scraped records into canonical listings.
package normalize

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"jobwatch/internal/model"
)

// ErrMissingExternalID is returned for records without a source identifier.
// Such records are dropped rather than stored under a synthesized identity.
var ErrMissingExternalID = errors.New("missing external id")

// Error describes a record that could not be normalized.
type Error struct {
	Source model.Source
	Title  string
	Err    error
}

func (e *Error) Error() string {
	if e.Title == "" {
		return fmt.Sprintf("normalize %s record: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("normalize %s record %q: %v", e.Source, e.Title, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Normalizer maps raw records to listings. It performs no I/O.
type Normalizer struct {
	conv *md.Converter
	now  func() time.Time
}

// New creates a Normalizer stamping listings with the current time.
func New() *Normalizer {
	return NewWithClock(time.Now)
}

// NewWithClock creates a Normalizer with a custom clock (useful for testing).
func NewWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{
		conv: md.NewConverter("", true, nil),
		now:  now,
	}
}

// Normalize converts raw into a Listing attributed to source.
func (n *Normalizer) Normalize(raw model.RawRecord, source model.Source) (model.Listing, error) {
	title := collapse(raw.Title)
	externalID := strings.TrimSpace(raw.ExternalID)
	if externalID == "" {
		return model.Listing{}, &Error{Source: source, Title: title, Err: ErrMissingExternalID}
	}

	now := n.now().UTC()
	description := n.description(raw.Description)
	location := collapse(raw.Location)

	salary := ParseSalary(raw.SalaryText)

	l := model.Listing{
		ExternalID:      externalID,
		SourceSite:      source,
		Title:           title,
		Company:         collapse(raw.Company),
		Location:        location,
		JobType:         ClassifyJobType(raw.JobTypeText, title, location),
		ExperienceLevel: ClassifyExperience(title, description),
		SalaryMin:       salary.Min,
		SalaryMax:       salary.Max,
		SalaryCurrency:  salary.Currency,
		Description:     description,
		Requirements:    ExtractRequirements(title + "\n" + description),
		Skills:          ExtractSkills(title + "\n" + description),
		ApplicationURL:  strings.TrimSpace(raw.URL),
		PostedDate:      postedDate(raw, now),
		ScrapedAt:       now,
		Metadata:        metadata(raw),
	}
	return l, nil
}

var (
	spaceRe     = regexp.MustCompile(`\s+`)
	lineSpaceRe = regexp.MustCompile(`[ \t\f\v]+`)
	blankRe     = regexp.MustCompile(`\n{3,}`)
)

func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func (n *Normalizer) description(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if looksLikeHTML(s) {
		if out, err := n.conv.ConvertString(s); err == nil {
			s = out
		}
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(lineSpaceRe.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(blankRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

func looksLikeHTML(s string) bool {
	i := strings.IndexByte(s, '<')
	return i >= 0 && strings.IndexByte(s[i:], '>') > 0
}

func metadata(raw model.RawRecord) map[string]string {
	out := make(map[string]string, len(raw.Metadata)+2)
	maps.Copy(out, raw.Metadata)
	if raw.SalaryText != "" {
		out["salary_text"] = collapse(raw.SalaryText)
	}
	if raw.JobTypeText != "" {
		out["job_type_text"] = collapse(raw.JobTypeText)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
