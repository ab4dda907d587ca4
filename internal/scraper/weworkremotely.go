package scraper

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"jobwatch/internal/model"
)

// DefaultWeWorkRemotelyURL is the programming jobs RSS feed.
const DefaultWeWorkRemotelyURL = "https://weworkremotely.com/categories/remote-programming-jobs.rss"

// weWorkRemotely reads a category feed. The feed takes no query, so records
// are filtered by keyword after parsing.
type weWorkRemotely struct {
	base string
}

// NewWeWorkRemotely creates a scraper for a We Work Remotely RSS feed.
func NewWeWorkRemotely(base string, client HTTPClient, opts Options) *HTTPScraper {
	if base == "" {
		base = DefaultWeWorkRemotelyURL
	}
	return newHTTPScraper(weWorkRemotely{base: base}, client, opts)
}

func (weWorkRemotely) source() model.Source { return model.SourceWeWorkRemotely }

func (w weWorkRemotely) searchURL(model.SearchCriteria) string { return w.base }

func (weWorkRemotely) parse(body []byte, c model.SearchCriteria) ([]model.RawRecord, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var records []model.RawRecord
	for _, item := range feed.Items {
		if !mentionsAny(item.Title+" "+item.Description, c.Keywords) {
			continue
		}
		records = append(records, feedRecord(item))
	}
	return records, nil
}

// feedRecord maps an RSS item. Titles have the form "Company: Role".
func feedRecord(item *gofeed.Item) model.RawRecord {
	company, title := "", item.Title
	if i := strings.Index(item.Title, ": "); i > 0 {
		company, title = item.Title[:i], item.Title[i+2:]
	}

	id := item.GUID
	if id == "" {
		id = item.Link
	}

	rec := model.RawRecord{
		ExternalID:  id,
		Title:       title,
		Company:     company,
		Location:    item.Custom["region"],
		Description: item.Description,
		JobTypeText: "remote",
		URL:         item.Link,
		PostedAt:    item.PublishedParsed,
	}
	if item.Custom["type"] != "" {
		rec.Metadata = map[string]string{"employment_type": item.Custom["type"]}
	}
	return rec
}

func mentionsAny(text string, keywords []string) bool {
	t := strings.ToLower(text)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(t, k) {
			return true
		}
	}
	return false
}
