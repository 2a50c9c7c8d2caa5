package strategy

import (
	"strings"
	"time"
	_ "time/tzdata"
)

var london = mustLocation("Europe/London")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func clock(h, m int) int { return h*60 + m }

// SessionCurrencies returns the currencies whose home session is open at t
// (London wall clock).
func SessionCurrencies(t time.Time) []string {
	lt := t.In(london)
	now := clock(lt.Hour(), lt.Minute())
	var out []string
	if now > clock(7, 0) && now < clock(16, 0) {
		out = append(out, "GBP", "EUR")
	}
	if now >= clock(12, 0) && now <= clock(21, 0) {
		out = append(out, "USD")
	}
	if now >= clock(22, 0) || now <= clock(7, 0) {
		out = append(out, "AUD")
	}
	if now >= clock(23, 0) || now <= clock(8, 0) {
		out = append(out, "JPY")
	}
	return out
}

// InSession reports whether any currency in epic trades in its session at t.
func InSession(epic string, t time.Time) bool {
	for _, c := range SessionCurrencies(t) {
		if strings.Contains(epic, c) {
			return true
		}
	}
	return false
}
