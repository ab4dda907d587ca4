// Package match decides which search profiles accept a listing.
package match

import (
	"strings"

	"jobwatch/internal/model"
)

// predicate is one condition a listing must satisfy for criteria to match.
type predicate func(l model.Listing, c model.SearchCriteria) bool

// All predicates must pass. Enum checks run before the text scans.
var predicates = []predicate{
	jobTypeMatches,
	experienceMatches,
	salaryMatches,
	locationMatches,
	keywordsMatch,
}

// Matches reports whether listing satisfies criteria.
func Matches(l model.Listing, c model.SearchCriteria) bool {
	c = c.WithDefaults()
	for _, p := range predicates {
		if !p(l, c) {
			return false
		}
	}
	return true
}

// Match returns a Match for every profile that accepts listing. Inactive
// profiles and profiles of inactive users are skipped.
func Match(l model.Listing, profiles []model.ActiveProfile) []model.Match {
	var out []model.Match
	for _, ap := range profiles {
		if !ap.Profile.IsActive || !ap.User.IsActive {
			continue
		}
		if Matches(l, ap.Profile.Criteria) {
			out = append(out, model.Match{Profile: ap.Profile, User: ap.User, Listing: l})
		}
	}
	return out
}

// MatchAll runs Match for every listing, keeping listing order.
func MatchAll(listings []model.Listing, profiles []model.ActiveProfile) []model.Match {
	var out []model.Match
	for _, l := range listings {
		out = append(out, Match(l, profiles)...)
	}
	return out
}

// keywordsMatch passes when any non-blank keyword occurs in the title or
// description. Criteria without a usable keyword never match.
func keywordsMatch(l model.Listing, c model.SearchCriteria) bool {
	text := strings.ToLower(l.Title + "\n" + l.Description)
	for _, k := range c.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func locationMatches(l model.Listing, c model.SearchCriteria) bool {
	want := strings.ToLower(strings.TrimSpace(c.Location))
	return want == "" || strings.Contains(strings.ToLower(l.Location), want)
}

func jobTypeMatches(l model.Listing, c model.SearchCriteria) bool {
	return c.JobType == model.JobTypeAny || c.JobType == l.JobType
}

// experienceMatches treats a listing without an experience signal as a match.
func experienceMatches(l model.Listing, c model.SearchCriteria) bool {
	return c.ExperienceLevel == model.ExperienceAny || l.ExperienceLevel == "" || c.ExperienceLevel == l.ExperienceLevel
}

// salaryMatches passes when the listing range overlaps the criteria window.
// A listing without salary data always passes; a missing listing bound is
// open, so "up to 100k" overlaps a 50k-80k window.
func salaryMatches(l model.Listing, c model.SearchCriteria) bool {
	if l.SalaryMin == nil && l.SalaryMax == nil {
		return true
	}
	if c.SalaryMin != nil && l.SalaryMax != nil && *l.SalaryMax < *c.SalaryMin {
		return false
	}
	if c.SalaryMax != nil && l.SalaryMin != nil && *l.SalaryMin > *c.SalaryMax {
		return false
	}
	return true
}
