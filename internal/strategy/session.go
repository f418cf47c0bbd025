package strategy

import (
	"time"

	"neattrade/internal/model"
)

// Session is a daily UTC trading window [StartHour, EndHour). A window whose
// end is before its start wraps past midnight; equal bounds mean all day.
type Session struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

func (s Session) Contains(t time.Time) bool {
	h := t.UTC().Hour()
	switch {
	case s.StartHour == s.EndHour:
		return true
	case s.StartHour < s.EndHour:
		return h >= s.StartHour && h < s.EndHour
	default:
		return h >= s.StartHour || h < s.EndHour
	}
}

// InSession reports whether t falls in any session. No sessions means always.
func InSession(sessions []Session, t time.Time) bool {
	if len(sessions) == 0 {
		return true
	}
	for _, s := range sessions {
		if s.Contains(t) {
			return true
		}
	}
	return false
}

// CandleTime converts a unix-millisecond candle timestamp.
func CandleTime(c model.Candle) time.Time {
	return time.UnixMilli(c.CloseTime).UTC()
}
