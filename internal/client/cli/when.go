package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var naturalDates = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseWhen accepts RFC 3339, YYYY-MM-DD or natural language such as
// "yesterday" or "last friday 18:00", relative to now.
func parseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "now") {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, now.Location()); err == nil {
		return t, nil
	}

	r, err := naturalDates.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return r.Time, nil
}

// parseWhenMillis is parseWhen in epoch milliseconds; empty input is 0.
func parseWhenMillis(s string, now time.Time) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	t, err := parseWhen(s, now)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
