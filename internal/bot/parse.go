package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"jobwatch/internal/model"
)

// ProfileArgs holds the parsed arguments of /add.
type ProfileArgs struct {
	Name     string
	Criteria model.SearchCriteria
}

const profileUsage = "usage: /add <keywords> [-l location] [-t remote|hybrid|onsite|any] [-e entry|mid|senior|any] [-s min-max]"

// ParseProfileCommand parses arguments for /add.
// Format: <keyword, keyword...> [-l location] [-t type] [-e level] [-s salary]
func ParseProfileCommand(args string) (ProfileArgs, error) {
	values := map[string][]string{}
	flag := ""
	for _, tok := range strings.Fields(args) {
		switch tok {
		case "-l", "-t", "-e", "-s":
			flag = tok
			if _, dup := values[flag]; dup {
				return ProfileArgs{}, fmt.Errorf("flag %s given twice", flag)
			}
			values[flag] = []string{}
			continue
		}
		values[flag] = append(values[flag], tok)
	}

	var keywords []string
	for _, k := range strings.Split(strings.Join(values[""], " "), ",") {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) == 0 {
		return ProfileArgs{}, errors.New(profileUsage)
	}

	c := model.SearchCriteria{
		Keywords: keywords,
		Location: strings.Join(values["-l"], " "),
	}
	if v, ok := values["-t"]; ok {
		if len(v) != 1 || !model.JobType(v[0]).Valid() {
			return ProfileArgs{}, fmt.Errorf("invalid job type %q, use: remote, hybrid, onsite, any", strings.Join(v, " "))
		}
		c.JobType = model.JobType(v[0])
	}
	if v, ok := values["-e"]; ok {
		if len(v) != 1 || !model.ExperienceLevel(v[0]).Valid() {
			return ProfileArgs{}, fmt.Errorf("invalid level %q, use: entry, mid, senior, any", strings.Join(v, " "))
		}
		c.ExperienceLevel = model.ExperienceLevel(v[0])
	}
	if v, ok := values["-s"]; ok {
		if len(v) != 1 {
			return ProfileArgs{}, fmt.Errorf("invalid salary %q", strings.Join(v, " "))
		}
		lo, hi, err := ParseSalaryRange(v[0])
		if err != nil {
			return ProfileArgs{}, err
		}
		c.SalaryMin, c.SalaryMax = lo, hi
	}

	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		return ProfileArgs{}, err
	}
	return ProfileArgs{Name: strings.Join(keywords, ", "), Criteria: c}, nil
}

// ParseSalaryRange parses "min-max", "min-", "-max" or a single "min".
// Amounts may carry a k suffix.
func ParseSalaryRange(s string) (*int, *int, error) {
	lo, hi, isRange := strings.Cut(s, "-")
	if !isRange {
		v, err := parseAmount(lo)
		if err != nil || v == nil {
			return nil, nil, fmt.Errorf("invalid salary %q", s)
		}
		return v, nil, nil
	}
	minV, err := parseAmount(lo)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid salary %q", s)
	}
	maxV, err := parseAmount(hi)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid salary %q", s)
	}
	if minV == nil && maxV == nil {
		return nil, nil, fmt.Errorf("invalid salary %q", s)
	}
	return minV, maxV, nil
}

func parseAmount(s string) (*int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil, nil
	}
	mult := 1
	if strings.HasSuffix(s, "k") {
		mult = 1000
		s = strings.TrimSuffix(s, "k")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	n *= mult
	return &n, nil
}

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("profile ID is required")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.Fields(s)[0], "#"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid profile ID %q", s)
	}
	return id, nil
}
