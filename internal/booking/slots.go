package booking

import (
	"sort"
	"time"
)

// GenerateSlots walks every window from its start in stride steps while the
// step is still before the window end. Output is ascending with duplicates
// from overlapping windows removed.
func GenerateSlots(windows []Window, stride time.Duration) []Slot {
	step := TimeOfDay(stride / time.Minute)
	if step <= 0 {
		return nil
	}

	sorted := make([]Window, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	seen := make(map[TimeOfDay]struct{})
	var slots []Slot
	for _, w := range sorted {
		if !w.Active {
			continue
		}
		for t := w.Start; t < w.End; t += step {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			slots = append(slots, Slot{Time: t, Label: t.Label()})
		}
	}

	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Time < slots[j].Time })
	return slots
}

func windowsForWeekday(windows []Window, weekday int) []Window {
	var out []Window
	for _, w := range windows {
		if w.Weekday == weekday && w.Active {
			out = append(out, w)
		}
	}
	return out
}
