package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"jobwatch/internal/model"
)

// DefaultLinkedInURL is the guest job search endpoint.
const DefaultLinkedInURL = "https://www.linkedin.com/jobs-guest/jobs/api/seeMoreJobPostings/search"

type linkedIn struct {
	base string
}

// NewLinkedIn creates a scraper for LinkedIn's public job search.
func NewLinkedIn(base string, client HTTPClient, opts Options) *HTTPScraper {
	if base == "" {
		base = DefaultLinkedInURL
	}
	return newHTTPScraper(linkedIn{base: base}, client, opts)
}

func (linkedIn) source() model.Source { return model.SourceLinkedIn }

var linkedInWorkType = map[model.JobType]string{
	model.JobTypeOnsite: "1",
	model.JobTypeRemote: "2",
	model.JobTypeHybrid: "3",
}

var linkedInExperience = map[model.ExperienceLevel]string{
	model.ExperienceEntry:  "1",
	model.ExperienceMid:    "2",
	model.ExperienceSenior: "3",
}

func (l linkedIn) searchURL(c model.SearchCriteria) string {
	q := url.Values{}
	q.Set("keywords", strings.Join(c.Keywords, " "))
	if c.Location != "" {
		q.Set("location", c.Location)
	}
	if v, ok := linkedInWorkType[c.JobType]; ok {
		q.Set("f_WT", v)
	}
	if v, ok := linkedInExperience[c.ExperienceLevel]; ok {
		q.Set("f_E", v)
	}
	return l.base + "?" + q.Encode()
}

func (linkedIn) parse(body []byte, _ model.SearchCriteria) ([]model.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var records []model.RawRecord
	doc.Find("[data-entity-urn]").Each(func(_ int, card *goquery.Selection) {
		urn, _ := card.Attr("data-entity-urn")
		link, _ := card.Find("a.base-card__full-link, a[href*='/jobs/view/']").First().Attr("href")

		rec := model.RawRecord{
			ExternalID:  urnID(urn),
			Title:       text(card.Find(".base-search-card__title, h3").First()),
			Company:     text(card.Find(".base-search-card__subtitle, h4").First()),
			Location:    text(card.Find(".job-search-card__location").First()),
			SalaryText:  text(card.Find(".job-search-card__salary-info").First()),
			JobTypeText: text(card.Find(".job-search-card__workplace-type").First()),
			URL:         stripQuery(link),
			Metadata:    map[string]string{"urn": urn},
		}

		when := card.Find("time").First()
		rec.PostedText = text(when)
		if dt, ok := when.Attr("datetime"); ok {
			if t, err := time.Parse("2006-01-02", dt); err == nil {
				rec.PostedAt = &t
			}
		}
		if card.Find(".job-posting-benefits, .result-benefits").Length() > 0 {
			rec.Metadata["benefits"] = text(card.Find(".job-posting-benefits, .result-benefits").First())
		}
		records = append(records, rec)
	})
	return records, nil
}

// urnID extracts the numeric id from "urn:li:jobPosting:123".
func urnID(urn string) string {
	if i := strings.LastIndexByte(urn, ':'); i >= 0 {
		return urn[i+1:]
	}
	return urn
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func stripQuery(link string) string {
	if i := strings.IndexByte(link, '?'); i >= 0 {
		return link[:i]
	}
	return link
}
