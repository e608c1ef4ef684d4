package plan

import (
	"strconv"
	"time"
)

const Day = 24 * time.Hour

// Plan is a purchasable subscription period. Plans are built once at startup
// and never mutated.
type Plan struct {
	ID         string        `json:"id"`
	Duration   time.Duration `json:"duration"`
	PriceMinor int64         `json:"price_minor"` // IDR has no minor unit, so this is whole rupiah
	Label      string        `json:"label"`
}

// DurationSeconds is the plan length in whole seconds.
func (p Plan) DurationSeconds() int64 {
	return int64(p.Duration / time.Second)
}

// Defaults are the periods offered by the bot: 7, 14 and 30 days.
func Defaults() []Plan {
	return []Plan{
		newPlan("7d", 7, 12000),
		newPlan("14d", 14, 20000),
		newPlan("30d", 30, 25000),
	}
}

func newPlan(id string, days int, price int64) Plan {
	p := Plan{ID: id, Duration: time.Duration(days) * Day, PriceMinor: price}
	p.Label = FormatLabel(p)
	return p
}

// FormatLabel renders the display label: duration in days and the rupiah price.
func FormatLabel(p Plan) string {
	days := int64(p.Duration / Day)
	return strconv.FormatInt(days, 10) + " hari — Rp" + formatRupiah(p.PriceMinor)
}

// formatRupiah groups thousands with dots.
func formatRupiah(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := n < 0
	if neg {
		s = s[1:]
	}
	var out []byte
	for i := 0; i < len(s); i++ {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, '.')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
