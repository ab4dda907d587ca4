package notify

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"jobwatch/internal/model"
)

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// FormatSalary renders a listing's salary range, or "" when it has none.
func FormatSalary(l model.Listing) string {
	sym, ok := currencySymbols[l.SalaryCurrency]
	if !ok && l.SalaryCurrency != "" {
		sym = l.SalaryCurrency + " "
	}
	amount := func(v int) string { return sym + groupThousands(v) }

	switch {
	case l.SalaryMin != nil && l.SalaryMax != nil && *l.SalaryMin == *l.SalaryMax:
		return amount(*l.SalaryMin)
	case l.SalaryMin != nil && l.SalaryMax != nil:
		return amount(*l.SalaryMin) + " - " + amount(*l.SalaryMax)
	case l.SalaryMin != nil:
		return "from " + amount(*l.SalaryMin)
	case l.SalaryMax != nil:
		return "up to " + amount(*l.SalaryMax)
	}
	return ""
}

// Subject is the one-line summary used for mail subjects and message heads.
func Subject(l model.Listing) string {
	if l.Company == "" {
		return "New job match: " + l.Title
	}
	return "New job match: " + l.Title + " at " + l.Company
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "..."
}

func groupThousands(v int) string {
	s := strconv.Itoa(v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func joinStrings(s []string, sep string) string {
	return strings.Join(s, sep)
}
