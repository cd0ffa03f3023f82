// Package reminder holds the reminder model, the in-memory store with its
// persistence and observers, and the wall-clock math used to schedule them.
package reminder

import "fmt"

// TimeOfDay is an hour and minute with no date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Reminder fires every week on Weekday at Time unless its Concept is
// configured as non-repeating.
type Reminder struct {
	ID      string
	Time    TimeOfDay
	Weekday int // ISO weekday, Monday=1
	Concept int
}

// sortKey mirrors the persisted list order: weekday digit followed by
// "HH:MM:SS".
func (r Reminder) sortKey() string {
	return fmt.Sprintf("%d%02d:%02d:00", r.Weekday, r.Time.Hour, r.Time.Minute)
}

// Listener observes store mutations. Callbacks run outside the store lock
// and must not block for long.
type Listener interface {
	OnAdded(id string)
	OnRemoved(id string)
}

// Registration identifies a Listener registered with Register.
type Registration struct {
	add    string
	remove string
}
