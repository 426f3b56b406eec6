package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/devtrackhq/devtrack/internal/storage"
)

// DayTotal is the hours worked on one calendar day.
type DayTotal struct {
	Date  string  `json:"date"` // "2006-01-02"
	Hours float64 `json:"hours"`
}

// ProjectHours is the hour total for one project.
type ProjectHours struct {
	ProjectID   string  `json:"project_id"`
	ProjectName string  `json:"project_name"`
	Hours       float64 `json:"hours"`
	Sessions    int     `json:"sessions"`
}

// The aggregator functions below are pure and total: they never error, and
// an empty ledger yields zero-valued results so dashboards always render.

const dateLayout = "2006-01-02"

// TotalHours sums session durations in hours, rounded to one decimal.
func TotalHours(sessions []storage.Session) float64 {
	minutes := 0
	for _, s := range sessions {
		minutes += s.DurationMinutes
	}
	return round1(float64(minutes) / 60)
}

// AverageDaily is the mean daily hours over the trailing seven calendar
// days ending at now. An empty window yields 0.
func AverageDaily(sessions []storage.Session, now time.Time, loc *time.Location) float64 {
	if loc == nil {
		loc = time.Local
	}
	windowStart := startOfDay(now.In(loc)).AddDate(0, 0, -6)

	minutes := 0
	for _, s := range sessions {
		if s.StartTime.In(loc).Before(windowStart) {
			continue
		}
		minutes += s.DurationMinutes
	}
	return round1(float64(minutes) / 60 / 7)
}

// DailyHours buckets session hours by calendar day for the trailing
// windowDays days ending at now. Every day in the window appears, zeros
// included, oldest first.
func DailyHours(sessions []storage.Session, now time.Time, windowDays int, loc *time.Location) []DayTotal {
	if loc == nil {
		loc = time.Local
	}
	if windowDays <= 0 {
		windowDays = 7
	}

	today := startOfDay(now.In(loc))
	minutesByDate := make(map[string]int)
	for _, s := range sessions {
		minutesByDate[s.StartTime.In(loc).Format(dateLayout)] += s.DurationMinutes
	}

	totals := make([]DayTotal, 0, windowDays)
	for offset := windowDays - 1; offset >= 0; offset-- {
		date := today.AddDate(0, 0, -offset).Format(dateLayout)
		totals = append(totals, DayTotal{
			Date:  date,
			Hours: round2(float64(minutesByDate[date]) / 60),
		})
	}
	return totals
}

// HoursByProject distributes session hours across the known projects,
// two-decimal rounding. Projects with no sessions appear with 0 rather
// than being omitted.
func HoursByProject(projects []storage.Project, sessions []storage.Session) []ProjectHours {
	minutesByProject := make(map[string]int)
	countByProject := make(map[string]int)
	for _, s := range sessions {
		minutesByProject[s.ProjectID] += s.DurationMinutes
		countByProject[s.ProjectID]++
	}

	known := make(map[string]bool, len(projects))
	result := make([]ProjectHours, 0, len(projects))
	for _, p := range projects {
		known[p.ID] = true
		result = append(result, ProjectHours{
			ProjectID:   p.ID,
			ProjectName: p.Name,
			Hours:       round2(float64(minutesByProject[p.ID]) / 60),
			Sessions:    countByProject[p.ID],
		})
	}

	// Sessions referencing deleted projects still count under their
	// denormalized name.
	orphans := make([]ProjectHours, 0)
	for _, s := range sessions {
		if known[s.ProjectID] {
			continue
		}
		known[s.ProjectID] = true
		orphans = append(orphans, ProjectHours{
			ProjectID:   s.ProjectID,
			ProjectName: s.ProjectName,
			Hours:       round2(float64(minutesByProject[s.ProjectID]) / 60),
			Sessions:    countByProject[s.ProjectID],
		})
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].ProjectID < orphans[j].ProjectID })

	return append(result, orphans...)
}

// CurrentStreak counts consecutive calendar days with at least one
// session, walking backward from today. A day without sessions ends the
// walk, so a streak requires a session today.
func CurrentStreak(sessions []storage.Session, now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.Local
	}

	dates := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		dates[s.StartTime.In(loc).Format(dateLayout)] = true
	}

	today := startOfDay(now.In(loc))
	streak := 0
	for dates[today.AddDate(0, 0, -streak).Format(dateLayout)] {
		streak++
	}
	return streak
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
