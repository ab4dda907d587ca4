package bot

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"jobwatch/internal/model"
	"jobwatch/internal/notify"
	"jobwatch/internal/scheduler"
)

const (
	statusActive = "active"
	statusPaused = "paused"

	descriptionPreview = 300
)

// FormatListing formats a matched listing as a Telegram notification message.
func FormatListing(l model.Listing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n\n", l.SourceSite)
	b.WriteString(l.Title)
	if l.Company != "" {
		b.WriteString("\n")
		b.WriteString(l.Company)
	}

	var where []string
	if l.Location != "" {
		where = append(where, l.Location)
	}
	if l.JobType != "" {
		where = append(where, string(l.JobType))
	}
	if len(where) > 0 {
		fmt.Fprintf(&b, "\n%s", strings.Join(where, " · "))
	}
	if salary := notify.FormatSalary(l); salary != "" {
		fmt.Fprintf(&b, "\nSalary: %s", salary)
	}
	if len(l.Skills) > 0 {
		fmt.Fprintf(&b, "\nSkills: %s", strings.Join(l.Skills, ", "))
	}
	if l.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(notify.Truncate(l.Description, descriptionPreview))
	}
	if l.ApplicationURL != "" {
		b.WriteString("\n\n")
		b.WriteString(l.ApplicationURL)
	}
	return b.String()
}

// FormatCriteria renders the non-default parts of a search.
func FormatCriteria(c model.SearchCriteria) string {
	c = c.WithDefaults()
	parts := []string{"Keywords: " + strings.Join(c.Keywords, ", ")}
	if c.Location != "" {
		parts = append(parts, "Location: "+c.Location)
	}
	if c.JobType != model.JobTypeAny {
		parts = append(parts, "Type: "+string(c.JobType))
	}
	if c.ExperienceLevel != model.ExperienceAny {
		parts = append(parts, "Level: "+string(c.ExperienceLevel))
	}
	if salary := notify.FormatSalary(model.Listing{SalaryMin: c.SalaryMin, SalaryMax: c.SalaryMax}); salary != "" {
		parts = append(parts, "Salary: "+salary)
	}
	return strings.Join(parts, "\n")
}

// FormatProfileList formats a list of search profiles for display.
func FormatProfileList(profiles []model.SearchProfile) string {
	if len(profiles) == 0 {
		return "You have no searches yet. Use /add <keywords> to create one."
	}
	var b strings.Builder
	b.WriteString("Your searches:\n")
	for _, p := range profiles {
		status := statusActive
		if !p.IsActive {
			status = statusPaused
		}
		fmt.Fprintf(&b, "\n#%d %s [%s]\n", p.ID, p.Name, status)
		for _, line := range strings.Split(FormatCriteria(p.Criteria), "\n") {
			fmt.Fprintf(&b, "   %s\n", line)
		}
	}
	return b.String()
}

// FormatNotificationList formats a user's recent notifications.
func FormatNotificationList(list []model.Notification) string {
	if len(list) == 0 {
		return "No notifications yet."
	}
	var b strings.Builder
	b.WriteString("Recent notifications:\n")
	for _, n := range list {
		fmt.Fprintf(&b, "\n%s listing #%d (search #%d) via %s: %s",
			n.CreatedAt.Format("2006-01-02 15:04"), n.ListingID, n.ProfileID, n.Channel, n.Status)
		if n.Error != "" {
			fmt.Fprintf(&b, " (%s)", n.Error)
		}
	}
	return b.String()
}

// FormatStatistics formats store statistics and, when known, the scheduler
// state.
func FormatStatistics(st model.Statistics, window time.Duration, snap *scheduler.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Last %s:\n", window)
	fmt.Fprintf(&b, "New listings: %d\n", st.TotalListings)
	for _, src := range slices.Sorted(maps.Keys(st.BySource)) {
		fmt.Fprintf(&b, "   %s: %d\n", src, st.BySource[src])
	}
	for _, jt := range slices.Sorted(maps.Keys(st.ByJobType)) {
		fmt.Fprintf(&b, "   %s: %d\n", jt, st.ByJobType[jt])
	}
	fmt.Fprintf(&b, "Matches: %d\n", st.Matches)
	fmt.Fprintf(&b, "Notifications: %d sent, %d failed\n", st.NotificationsSent, st.NotificationsFailed)

	if snap != nil {
		fmt.Fprintf(&b, "\nScheduler: %s (every %s)", snap.Phase, snap.Interval)
		if snap.LastRun != nil {
			fmt.Fprintf(&b, "\nLast run: %s, %s, %d new", snap.LastRun.StartedAt.Format("2006-01-02 15:04 UTC"),
				snap.LastRun.Status, snap.LastRun.NewCount())
		}
	}
	return b.String()
}
