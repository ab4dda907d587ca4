package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"jobwatch/internal/model"
)

// DefaultIndeedURL is Indeed's job search page.
const DefaultIndeedURL = "https://www.indeed.com/jobs"

type indeed struct {
	base string
}

// NewIndeed creates a scraper for Indeed search result pages.
func NewIndeed(base string, client HTTPClient, opts Options) *HTTPScraper {
	if base == "" {
		base = DefaultIndeedURL
	}
	return newHTTPScraper(indeed{base: base}, client, opts)
}

func (indeed) source() model.Source { return model.SourceIndeed }

var indeedRemote = map[model.JobType]string{
	model.JobTypeOnsite: "0",
	model.JobTypeRemote: "1",
	model.JobTypeHybrid: "2",
}

var indeedLevel = map[model.ExperienceLevel]string{
	model.ExperienceEntry:  "ENTRY_LEVEL",
	model.ExperienceMid:    "MID_LEVEL",
	model.ExperienceSenior: "SENIOR_LEVEL",
}

func (i indeed) searchURL(c model.SearchCriteria) string {
	q := url.Values{}
	q.Set("q", strings.Join(c.Keywords, " "))
	if c.Location != "" {
		q.Set("l", c.Location)
	}
	if v, ok := indeedRemote[c.JobType]; ok {
		q.Set("remotejob", v)
	}
	if v, ok := indeedLevel[c.ExperienceLevel]; ok {
		q.Set("explvl", v)
	}
	if c.SalaryMin != nil {
		q.Set("salary_min", strconv.Itoa(*c.SalaryMin))
	}
	if c.SalaryMax != nil {
		q.Set("salary_max", strconv.Itoa(*c.SalaryMax))
	}
	q.Set("sort", "date")
	return i.base + "?" + q.Encode()
}

func (i indeed) parse(body []byte, _ model.SearchCriteria) ([]model.RawRecord, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var records []model.RawRecord
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "job_seen_beacon") {
			records = append(records, i.card(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return records, nil
}

func (i indeed) card(n *html.Node) model.RawRecord {
	var rec model.RawRecord
	if a := findNode(n, func(n *html.Node) bool { return attr(n, "data-jk") != "" }); a != nil {
		rec.ExternalID = attr(a, "data-jk")
		rec.Title = textContent(a)
		rec.URL = i.viewURL(rec.ExternalID)
	}
	if t := findNode(n, classPred("jobTitle")); t != nil && rec.Title == "" {
		rec.Title = textContent(t)
	}
	rec.Company = textOf(n, func(n *html.Node) bool {
		return hasClass(n, "companyName") || attr(n, "data-testid") == "company-name"
	})
	rec.Location = textOf(n, func(n *html.Node) bool {
		return hasClass(n, "companyLocation") || attr(n, "data-testid") == "text-location"
	})
	rec.SalaryText = textOf(n, classPred("salary-snippet-container"))
	if rec.SalaryText == "" {
		rec.SalaryText = textOf(n, classPred("salary-snippet"))
	}
	rec.Description = textOf(n, classPred("job-snippet"))
	rec.PostedText = strings.TrimSpace(strings.TrimPrefix(textOf(n, classPred("date")), "Posted"))
	rec.JobTypeText = textOf(n, func(n *html.Node) bool { return attr(n, "data-testid") == "attribute_snippet_testid" })
	if rec.JobTypeText == "" {
		rec.JobTypeText = rec.Location
	}
	return rec
}

func (i indeed) viewURL(jk string) string {
	u, err := url.Parse(i.base)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/viewjob?jk=" + url.QueryEscape(jk)
}

func classPred(class string) func(*html.Node) bool {
	return func(n *html.Node) bool { return hasClass(n, class) }
}

func textOf(n *html.Node, pred func(*html.Node) bool) string {
	if m := findNode(n, pred); m != nil {
		return textContent(m)
	}
	return ""
}

// findNode returns the first element under n, n included, matching pred.
func findNode(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && pred(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if m := findNode(c, pred); m != nil {
			return m
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attr(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
