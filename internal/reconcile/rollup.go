package reconcile

import (
	"sort"
	"time"

	"github.com/HerbHall/netreach/pkg/models"
)

const dateLayout = "2006-01-02"

// DaySpan is the part of an interval that falls on one local calendar day.
type DaySpan struct {
	Date    string
	Seconds int64
}

// SplitByLocalDay splits [start, end) at every midnight in loc. Each span
// holds the whole seconds of the interval that fall on its day. An empty or
// inverted interval yields nothing.
func SplitByLocalDay(start, end time.Time, loc *time.Location) []DaySpan {
	if !end.After(start) {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}

	var spans []DaySpan
	cursor := start
	for cursor.Before(end) {
		local := cursor.In(loc)
		y, m, d := local.Date()
		midnight := time.Date(y, m, d+1, 0, 0, 0, 0, loc)

		segEnd := end
		if midnight.Before(end) {
			segEnd = midnight
		}
		if secs := int64(segEnd.Sub(cursor) / time.Second); secs > 0 {
			spans = append(spans, DaySpan{Date: local.Format(dateLayout), Seconds: secs})
		}
		cursor = segEnd
	}
	return spans
}

type rollupKey struct {
	assetID string
	date    string
}

// rollups accumulates per-day uptime increments during a pass.
type rollups struct {
	loc    *time.Location
	online map[rollupKey]int64
	seen   map[rollupKey]int64
}

func newRollups(loc *time.Location) *rollups {
	return &rollups{
		loc:    loc,
		online: make(map[rollupKey]int64),
		seen:   make(map[rollupKey]int64),
	}
}

// add credits [from, to) as observed time, and as online time when online.
func (r *rollups) add(assetID string, from, to time.Time, online bool) {
	for _, span := range SplitByLocalDay(from, to, r.loc) {
		k := rollupKey{assetID: assetID, date: span.Date}
		r.seen[k] += span.Seconds
		if online {
			r.online[k] += span.Seconds
		}
	}
}

// rows returns the increments in asset/date order with observed >= online.
func (r *rollups) rows(now time.Time) []models.DailyRollup {
	keys := make([]rollupKey, 0, len(r.seen))
	for k := range r.seen {
		keys = append(keys, k)
	}
	for k := range r.online {
		if _, ok := r.seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].assetID != keys[j].assetID {
			return keys[i].assetID < keys[j].assetID
		}
		return keys[i].date < keys[j].date
	})

	out := make([]models.DailyRollup, 0, len(keys))
	for _, k := range keys {
		online, seen := r.online[k], r.seen[k]
		if online <= 0 && seen <= 0 {
			continue
		}
		out = append(out, models.DailyRollup{
			AssetID:         k.assetID,
			Date:            k.date,
			OnlineSeconds:   online,
			ObservedSeconds: max(seen, online),
			UpdatedAt:       now,
		})
	}
	return out
}
