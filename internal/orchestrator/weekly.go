package orchestrator

import (
	"iter"
	"time"

	"github.com/JakeFAU/billboard-chart-crawler/internal/clock/system"
)

// Weekly yields start, start+7d, ... up to and including end when end lands
// on the step. The sequence is lazy and can be ranged over again.
func Weekly(start, end time.Time) iter.Seq[time.Time] {
	start, end = system.DateOf(start), system.DateOf(end)
	return func(yield func(time.Time) bool) {
		for d := start; !d.After(end); d = d.AddDate(0, 0, 7) {
			if !yield(d) {
				return
			}
		}
	}
}
