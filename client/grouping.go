package client

import (
	"time"

	"github.com/veridict/dispute-chat-api/models"
)

// DateDivider marks the start of a calendar day in the rendered timeline
type DateDivider struct {
	Day   time.Time
	Label string
}

// TimelineItem is either a message or a day divider; exactly one field is set
type TimelineItem struct {
	Divider *DateDivider
	Message *models.Message
}

// GroupByDay walks the ordered log once and inserts a divider before the
// first message of each calendar day, labeled relative to now ("Today",
// "Yesterday", or the formatted date). Days are compared in now's location.
// The result is fully derived: recompute it whenever the log or the wall
// clock date changes, never cache it.
func GroupByDay(messages []models.Message, now time.Time) []TimelineItem {
	items := make([]TimelineItem, 0, len(messages))
	var currentDay time.Time

	for i := range messages {
		day := startOfDay(messages[i].CreatedAt.In(now.Location()))
		if !day.Equal(currentDay) {
			currentDay = day
			items = append(items, TimelineItem{Divider: &DateDivider{
				Day:   day,
				Label: dayLabel(day, now),
			}})
		}
		items = append(items, TimelineItem{Message: &messages[i]})
	}
	return items
}

func dayLabel(day, now time.Time) string {
	today := startOfDay(now)
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return day.Format("January 2, 2006")
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
