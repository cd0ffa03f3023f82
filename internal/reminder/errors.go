package reminder

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidReminder = errors.New("invalid reminder")
	ErrNotFound        = errors.New("reminder not found")
	ErrPersistence     = errors.New("reminder persistence failed")
)

// ValidationError reports the first out-of-range field of a reminder.
type ValidationError struct {
	Field string
	Value int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid reminder: %s %d out of range", e.Field, e.Value)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidReminder }

// Validate applies the accepted ranges: hour 1..24, minute 0..60,
// weekday 1..7.
func Validate(hour, minute, weekday int) error {
	switch {
	case !(0 < hour && hour < 25):
		return &ValidationError{Field: "hour", Value: hour}
	case !(-1 < minute && minute < 61):
		return &ValidationError{Field: "minute", Value: minute}
	case !(0 < weekday && weekday < 8):
		return &ValidationError{Field: "weekday", Value: weekday}
	}
	return nil
}
