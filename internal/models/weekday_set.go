package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// WeekdaySet is a bitmask of the days of the week an approval rule applies
// on. Bit n corresponds to time.Weekday(n) (Sunday = 0). The zero value
// means "every day". It serializes to JSON as an array of weekday integers
// and stores in the database as a plain integer column.
type WeekdaySet uint8

// NewWeekdaySet builds a set from the given weekdays.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// Has reports whether the set contains the given weekday.
func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// IsEmpty reports whether no days are set (rule applies every day).
func (s WeekdaySet) IsEmpty() bool {
	return s == 0
}

// Weekdays returns the contained weekdays in Sunday-first order.
func (s WeekdaySet) Weekdays() []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

// MarshalJSON encodes the set as a sorted array of weekday integers.
func (s WeekdaySet) MarshalJSON() ([]byte, error) {
	days := []int{}
	for _, d := range s.Weekdays() {
		days = append(days, int(d))
	}
	return json.Marshal(days)
}

// UnmarshalJSON decodes an array of weekday integers (0 = Sunday .. 6 = Saturday).
func (s *WeekdaySet) UnmarshalJSON(data []byte) error {
	var days []int
	if err := json.Unmarshal(data, &days); err != nil {
		return err
	}
	var set WeekdaySet
	for _, d := range days {
		if d < 0 || d > 6 {
			return fmt.Errorf("invalid weekday %d: must be 0-6", d)
		}
		set |= 1 << uint(d)
	}
	*s = set
	return nil
}
