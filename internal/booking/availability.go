package booking

import "time"

// FilterAvailable drops candidates that are taken or whose instant on date
// is not strictly after now. Order is preserved.
func FilterAvailable(candidates []Slot, taken map[TimeOfDay]struct{}, date Date, now time.Time, loc *time.Location) []Slot {
	out := make([]Slot, 0, len(candidates))
	for _, s := range candidates {
		if _, ok := taken[s.Time]; ok {
			continue
		}
		if !date.At(s.Time, loc).After(now) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func takenSet(times []TimeOfDay) map[TimeOfDay]struct{} {
	set := make(map[TimeOfDay]struct{}, len(times))
	for _, t := range times {
		set[t] = struct{}{}
	}
	return set
}
