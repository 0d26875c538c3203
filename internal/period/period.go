// Package period defines the canonical quarter key used to index all
// planning records. Keys are immutable strings of the form "2025-Q3";
// equality is exact string match.
package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key is a canonical quarter identifier, e.g. "2025-Q3".
type Key string

// FormatError describes a malformed raw period string.
type FormatError struct {
	Raw    string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid period %q: %s", e.Raw, e.Reason)
}

// Parse validates a raw string as a period key: 4-digit year, a literal
// "-Q", and a quarter digit 1-4.
func Parse(raw string) (Key, error) {
	trimmed := strings.TrimSpace(raw)
	parts := strings.SplitN(trimmed, "-Q", 2)
	if len(parts) != 2 {
		return "", &FormatError{Raw: raw, Reason: "want <year>-Q<1..4>"}
	}
	if len(parts[0]) != 4 {
		return "", &FormatError{Raw: raw, Reason: "year must be 4 digits"}
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 0 {
		return "", &FormatError{Raw: raw, Reason: "year must be 4 digits"}
	}
	quarter, err := strconv.Atoi(parts[1])
	if err != nil || quarter < 1 || quarter > 4 {
		return "", &FormatError{Raw: raw, Reason: "quarter must be 1-4"}
	}
	return New(year, quarter), nil
}

// New builds a key from a year and quarter. Quarter is clamped to 1-4.
func New(year, quarter int) Key {
	if quarter < 1 {
		quarter = 1
	}
	if quarter > 4 {
		quarter = 4
	}
	return Key(fmt.Sprintf("%04d-Q%d", year, quarter))
}

// Current returns the key for the quarter containing t.
func Current(t time.Time) Key {
	return New(t.Year(), (int(t.Month())-1)/3+1)
}

// Next returns the quarter after k.
func (k Key) Next() Key {
	year, quarter := k.parts()
	quarter++
	if quarter > 4 {
		quarter = 1
		year++
	}
	return New(year, quarter)
}

// Year returns the key's year component.
func (k Key) Year() int {
	year, _ := k.parts()
	return year
}

// Quarter returns the key's quarter component (1-4).
func (k Key) Quarter() int {
	_, quarter := k.parts()
	return quarter
}

// Display renders the key for user-facing confirmation, e.g. "Q3 2025".
// Never used as a storage key.
func (k Key) Display() string {
	year, quarter := k.parts()
	return fmt.Sprintf("Q%d %d", quarter, year)
}

// Start returns the first instant of the quarter in the given location.
func (k Key) Start(loc *time.Location) time.Time {
	year, quarter := k.parts()
	return time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, loc)
}

// Months returns the three month labels covered by the quarter,
// in calendar order. These are the keys of a mission month map.
func (k Key) Months() [3]string {
	_, quarter := k.parts()
	first := (quarter-1)*3 + 1
	var out [3]string
	for i := 0; i < 3; i++ {
		out[i] = time.Month(first + i).String()
	}
	return out
}

// After reports whether k is a later quarter than other.
func (k Key) After(other Key) bool {
	y1, q1 := k.parts()
	y2, q2 := other.parts()
	if y1 != y2 {
		return y1 > y2
	}
	return q1 > q2
}

func (k Key) String() string { return string(k) }

// parts assumes k was built by New or Parse.
func (k Key) parts() (year, quarter int) {
	s := string(k)
	if len(s) != 7 {
		return 0, 1
	}
	year, _ = strconv.Atoi(s[:4])
	quarter, _ = strconv.Atoi(s[6:])
	if quarter < 1 || quarter > 4 {
		quarter = 1
	}
	return year, quarter
}
