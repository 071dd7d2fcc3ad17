// Package velocity finds bursts of dated events inside calendar-day windows.
package velocity

import (
	"slices"
	"strings"

	"github.com/opensource-finance/trancheready/internal/domain"
)

// Event is one dated occurrence, usually a transaction.
type Event struct {
	ID   string
	Date domain.Date
}

// Window is a matched burst: the anchor event's date and every event that
// falls within the window measured forward from it.
type Window struct {
	Anchor  domain.Date
	Count   int
	Members []string
}

// Sample returns at most n member IDs; Count still reports the full size.
func (w Window) Sample(n int) []string {
	if n < 0 || n >= len(w.Members) {
		return slices.Clone(w.Members)
	}
	return slices.Clone(w.Members[:n])
}

// SortEvents orders events by date, breaking ties on ID so matching is
// independent of input order.
func SortEvents(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Match scans a date-sorted slice for the first anchor i whose window
// [date(i), date(i)+windowDays] holds at least minCount events, inclusive of
// both ends. Earlier anchors win; the reported window lists every event in it.
func Match(events []Event, windowDays, minCount int) (Window, bool) {
	if minCount < 1 {
		minCount = 1
	}
	if windowDays < 0 || len(events) < minCount {
		return Window{}, false
	}

	for i := range events {
		// Not enough events left to reach minCount from here.
		if len(events)-i < minCount {
			break
		}
		end := i
		for end+1 < len(events) && domain.DaysBetween(events[i].Date, events[end+1].Date) <= windowDays {
			end++
		}
		if count := end - i + 1; count >= minCount {
			members := make([]string, 0, count)
			for _, e := range events[i : end+1] {
				members = append(members, e.ID)
			}
			return Window{Anchor: events[i].Date, Count: count, Members: members}, true
		}
	}
	return Window{}, false
}
