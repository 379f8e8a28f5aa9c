package app

import (
	"time"

	rtsup "slotwatch/internal/runtime/supervisor"
)

const reportEntries = 10

type statusReport struct {
	Site           string          `json:"site"`
	Night          bool            `json:"night"`
	StartedAt      time.Time       `json:"started_at"`
	Uptime         string          `json:"uptime"`
	Checks         checkReport     `json:"checks"`
	Schedules      []scheduleState `json:"schedules"`
	Goroutine      rtsup.Counters  `json:"goroutines"`
	LogChatDropped uint64          `json:"log_chat_dropped"`
}

type checkReport struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	RatePct    int      `json:"rate_pct"`
	Recent     []string `json:"recent"`
}

type scheduleState struct {
	Name string     `json:"name"`
	Spec string     `json:"spec"`
	Next *time.Time `json:"next,omitempty"`
	Prev *time.Time `json:"prev,omitempty"`
}

// report backs GET /status.
func (a *App) report() any {
	snap := a.hist.Snapshot()
	recent := snap.Entries
	if len(recent) > reportEntries {
		recent = recent[len(recent)-reportEntries:]
	}

	r := statusReport{
		Site:      a.site.BaseURL,
		Night:     a.checker.IsNight(),
		StartedAt: a.startedAt,
		Uptime:    time.Since(a.startedAt).Truncate(time.Second).String(),
		Checks: checkReport{
			Total:      snap.Stats.Total,
			Successful: snap.Stats.Successful,
			RatePct:    snap.Stats.Rate(),
			Recent:     recent,
		},
		Goroutine:      a.sup.Counters(),
		LogChatDropped: a.logs.ChatDropped(),
	}
	for _, s := range a.sched.Snapshot() {
		st := scheduleState{Name: s.Name, Spec: s.Spec}
		if !s.Next.IsZero() {
			next := s.Next
			st.Next = &next
		}
		if !s.Prev.IsZero() {
			prev := s.Prev
			st.Prev = &prev
		}
		r.Schedules = append(r.Schedules, st)
	}
	return r
}
