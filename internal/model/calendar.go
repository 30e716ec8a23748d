package model

import "time"

// CalendarDateLayout is the persisted date format of calendar events
const CalendarDateLayout = "2006-01-02"

// CalendarEvent is a single entry in the calendar store
type CalendarEvent struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Description string `json:"description"`
}

// Day parses the event date in the given location
func (e CalendarEvent) Day(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(CalendarDateLayout, e.Date, loc)
}
