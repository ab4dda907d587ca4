package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// Salary is a parsed salary expression. Bounds are annual amounts.
type Salary struct {
	Min      *int
	Max      *int
	Currency string
}

const (
	hoursPerYear  = 2080
	monthsPerYear = 12

	// maxAnnualSalary bounds parsed figures so they fit an INTEGER column.
	maxAnnualSalary = 10_000_000
)

var (
	amountRe  = regexp.MustCompile(`(\d{1,3}(?:[,.]\d{3})+|\d+)(?:\.(\d+))?\s*(k\b)?\s*(\+)?`)
	hourlyRe  = regexp.MustCompile(`per hour|an hour|\bhourly\b|/\s*h(?:ou)?r\b`)
	monthlyRe = regexp.MustCompile(`per month|a month|\bmonthly\b|/\s*mo(?:nth)?\b`)
	upToRe    = regexp.MustCompile(`\b(up to|upto|max(?:imum)?|as much as)\b`)
	fromRe    = regexp.MustCompile(`\b(from|starting at|starting from|min(?:imum)?|at least)\b`)
)

// ParseSalary extracts a salary range from free text. Unparseable text yields
// an empty Salary, never an error.
func ParseSalary(text string) Salary {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return Salary{}
	}

	matches := amountRe.FindAllStringSubmatchIndex(s, 2)
	if len(matches) == 0 {
		return Salary{}
	}

	first, ok := amountAt(s, matches[0])
	if !ok {
		return Salary{}
	}
	var lo, hi *float64

	switch {
	case len(matches) == 2 && isRangeSeparator(s[matches[0][1]:matches[1][0]]):
		second, ok := amountAt(s, matches[1])
		if !ok {
			return Salary{}
		}
		// "$50-75k": the suffix applies to both ends.
		if second.k && !first.k && first.value < 1000 {
			first.value *= 1000
		}
		lo, hi = &first.value, &second.value
	case upToRe.MatchString(s[:matches[0][0]]):
		hi = &first.value
	case first.plus || fromRe.MatchString(s[:matches[0][0]]):
		lo = &first.value
	default:
		lo, hi = &first.value, &first.value
	}

	mult := 1.0
	switch {
	case hourlyRe.MatchString(s):
		mult = hoursPerYear
	case monthlyRe.MatchString(s):
		mult = monthsPerYear
	}

	var out Salary
	if out.Min, ok = annual(lo, mult); !ok {
		return Salary{}
	}
	if out.Max, ok = annual(hi, mult); !ok {
		return Salary{}
	}
	if out.Min != nil && out.Max != nil && *out.Min > *out.Max {
		out.Min, out.Max = out.Max, out.Min
	}
	out.Currency = currency(s)
	return out
}

type amount struct {
	value float64
	k     bool
	plus  bool
}

// amountAt reads the number matched by m. It reports false when the digits
// do not fit an int.
func amountAt(s string, m []int) (amount, bool) {
	digits := s[m[2]:m[3]]
	digits = strings.NewReplacer(",", "", ".", "").Replace(digits)
	v, err := strconv.Atoi(digits)
	if err != nil {
		return amount{}, false
	}

	var frac float64
	if m[4] >= 0 {
		frac, _ = strconv.ParseFloat("0."+s[m[4]:m[5]], 64)
	}

	a := amount{value: float64(v) + frac, k: m[6] >= 0, plus: m[8] >= 0}
	if a.k {
		a.value *= 1000
	}
	return a, true
}

// annual scales v to a yearly figure and rounds it. Figures above
// maxAnnualSalary are rejected.
func annual(v *float64, mult float64) (*int, bool) {
	if v == nil {
		return nil, true
	}
	f := *v * mult
	if f > maxAnnualSalary {
		return nil, false
	}
	return intPtr(int(f + 0.5)), true
}

func isRangeSeparator(between string) bool {
	b := strings.TrimSpace(between)
	b = strings.Trim(b, "$€£ ")
	switch b {
	case "-", "–", "—", "to", "and":
		return true
	}
	return false
}

func currency(s string) string {
	switch {
	case strings.Contains(s, "€") || strings.Contains(s, "eur"):
		return "EUR"
	case strings.Contains(s, "£") || strings.Contains(s, "gbp"):
		return "GBP"
	default:
		return "USD"
	}
}

func intPtr(v int) *int { return &v }
