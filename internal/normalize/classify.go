package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"jobwatch/internal/model"
)

var (
	hybridRe = regexp.MustCompile(`\bhybrid\b|\bpartially remote\b|\bpartly remote\b`)
	remoteRe = regexp.MustCompile(`\bremote\b|\bwork from home\b|\bwfh\b|\btelecommute\b|\banywhere\b`)

	seniorRe = regexp.MustCompile(`\b(senior|sr|lead|principal|staff)\b`)
	midRe    = regexp.MustCompile(`\b(mid|mid-level|intermediate|experienced)\b`)
	entryRe  = regexp.MustCompile(`\b(junior|jr|entry|entry-level|associate|graduate|intern|internship)\b`)

	// Descriptions mention "senior engineers" or "lead" in passing, so only
	// explicit level phrases count there.
	seniorDescRe = regexp.MustCompile(`\bsenior[- ]level\b`)
	midDescRe    = regexp.MustCompile(`\bmid[- ]level\b`)
	entryDescRe  = regexp.MustCompile(`\bentry[- ]level\b`)
)

// ClassifyJobType derives a listing job type from free text. Hybrid signals
// win over remote ones; text without a remote or hybrid signal is classified
// onsite. JobTypeAny is never returned.
func ClassifyJobType(texts ...string) model.JobType {
	s := strings.ToLower(strings.Join(texts, " "))
	switch {
	case hybridRe.MatchString(s):
		return model.JobTypeHybrid
	case remoteRe.MatchString(s):
		return model.JobTypeRemote
	default:
		return model.JobTypeOnsite
	}
}

// ClassifyExperience returns the experience level signalled by a title, or by
// an explicit phrase in the description. It returns "" when there is no signal.
func ClassifyExperience(title, description string) model.ExperienceLevel {
	t := strings.ToLower(title)
	switch {
	case seniorRe.MatchString(t):
		return model.ExperienceSenior
	case midRe.MatchString(t):
		return model.ExperienceMid
	case entryRe.MatchString(t):
		return model.ExperienceEntry
	}

	d := strings.ToLower(description)
	switch {
	case seniorDescRe.MatchString(d):
		return model.ExperienceSenior
	case midDescRe.MatchString(d):
		return model.ExperienceMid
	case entryDescRe.MatchString(d):
		return model.ExperienceEntry
	}
	return ""
}

type keyword struct {
	label string
	re    *regexp.Regexp
}

// term builds a case-insensitive matcher for label and its aliases that does
// not fire inside longer words ("java" in "javascript", "go" in "good").
func term(label string, aliases ...string) keyword {
	alts := make([]string, 0, len(aliases)+1)
	for _, a := range append([]string{label}, aliases...) {
		alts = append(alts, regexp.QuoteMeta(strings.ToLower(a)))
	}
	return keyword{
		label: label,
		re:    regexp.MustCompile(`(?:^|[^a-z0-9+#.])(?:` + strings.Join(alts, "|") + `)(?:$|[^a-z0-9+#])`),
	}
}

var skillTerms = []keyword{
	term("Python"), term("JavaScript"), term("Java"), term("React"), term("Angular"),
	term("Vue", "vue.js"), term("Node.js", "nodejs"), term("SQL"), term("MongoDB"),
	term("PostgreSQL", "postgres"), term("AWS"), term("Docker"), term("Kubernetes", "k8s"),
	term("Machine Learning"), term("AI"), term("Data Science"), term("DevOps"),
	term("Agile"), term("Scrum"), term("Git"), term("Jenkins"), term("CI/CD"),
	term("Microservices"), term("API", "apis"), term("HTML"), term("CSS"),
	term("TypeScript"), term("PHP"), term("Ruby"), term("Go", "golang"), term("Rust"),
	term("TensorFlow"), term("PyTorch"), term("scikit-learn"), term("Pandas"), term("NumPy"),
}

var requirementTerms = []keyword{
	term("Bachelor", "bachelor's"), term("Master", "master's"), term("PhD"), term("Degree"),
	term("Certification"), term("Experience"), term("Years"), term("Senior"), term("Junior"),
	term("Entry Level", "entry-level"), term("Leadership"), term("Management"), term("Team"),
	term("Communication"), term("Problem Solving", "problem-solving"), term("Analytical"),
	term("Creative"), term("Detail-Oriented", "detail oriented"),
}

// ExtractSkills returns the known skills mentioned in text, in list order.
func ExtractSkills(text string) []string {
	return extract(text, skillTerms)
}

// ExtractRequirements returns the known requirement keywords mentioned in text.
func ExtractRequirements(text string) []string {
	return extract(text, requirementTerms)
}

func extract(text string, terms []keyword) []string {
	s := strings.ToLower(text)
	var out []string
	for _, k := range terms {
		if k.re.MatchString(s) {
			out = append(out, k.label)
		}
	}
	return out
}

var relativeRe = regexp.MustCompile(`(\d+)\+?\s*(minute|hour|day|week|month)s?\s+ago`)

var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

func postedDate(raw model.RawRecord, now time.Time) *time.Time {
	if raw.PostedAt != nil {
		t := raw.PostedAt.UTC()
		return &t
	}
	return ParsePostedText(raw.PostedText, now)
}

// ParsePostedText interprets relative ("3 days ago") and absolute posting
// dates relative to now. It returns nil when the text is not understood.
func ParsePostedText(text string, now time.Time) *time.Time {
	s := strings.ToLower(collapse(text))
	if s == "" {
		return nil
	}
	switch s {
	case "just posted", "today", "just now", "new":
		return &now
	case "yesterday":
		t := now.AddDate(0, 0, -1)
		return &t
	}

	if m := relativeRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		var t time.Time
		switch m[2] {
		case "minute":
			t = now.Add(-time.Duration(n) * time.Minute)
		case "hour":
			t = now.Add(-time.Duration(n) * time.Hour)
		case "day":
			t = now.AddDate(0, 0, -n)
		case "week":
			t = now.AddDate(0, 0, -7*n)
		case "month":
			t = now.AddDate(0, -n, 0)
		}
		return &t
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, collapse(text)); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
