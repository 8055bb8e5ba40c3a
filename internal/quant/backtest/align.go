package backtest

import (
	"sort"
	"time"

	"github.com/dyike/CortexQuant/models"
)

// IndexOnOrAfter returns the index of the first date whose calendar day is
// on or after target. dates must be ascending. ok is false when every date
// is earlier than target.
func IndexOnOrAfter(dates []time.Time, target time.Time) (idx int, ok bool) {
	day := models.TruncateDay(target)
	idx = sort.Search(len(dates), func(i int) bool {
		return !models.TruncateDay(dates[i]).Before(day)
	})
	return idx, idx < len(dates)
}

// AlignedSignal pairs a signal with the bar it executes on.
type AlignedSignal struct {
	Signal models.SentimentSignal
	Bar    int
}

// AlignSignals maps each signal dated D to the first bar strictly after D.
// Signals are returned in date order; the sort is stable so same-day
// signals keep their input order. Signals with no later bar are returned
// as unmatched.
func AlignSignals(prices models.PriceSeries, signals []models.SentimentSignal) (aligned []AlignedSignal, unmatched []models.SentimentSignal) {
	ordered := make([]models.SentimentSignal, len(signals))
	copy(ordered, signals)
	sort.SliceStable(ordered, func(i, j int) bool {
		return models.TruncateDay(ordered[i].Date).Before(models.TruncateDay(ordered[j].Date))
	})

	dates := prices.Dates()
	for _, s := range ordered {
		next := models.TruncateDay(s.Date).AddDate(0, 0, 1)
		idx, ok := IndexOnOrAfter(dates, next)
		if !ok {
			unmatched = append(unmatched, s)
			continue
		}
		aligned = append(aligned, AlignedSignal{Signal: s, Bar: idx})
	}
	return aligned, unmatched
}
