package app

import (
	"time"

	"homeorch/internal/config"
	"homeorch/internal/notifier"
	"homeorch/internal/observability/debughttp"
)

type reminderStatus struct {
	ID      string     `json:"id"`
	Time    string     `json:"time"`
	Weekday int        `json:"weekday"`
	Concept int        `json:"concept"`
	State   string     `json:"state"`
	Next    *time.Time `json:"next,omitempty"`
}

type serviceStatus struct {
	Name    string `json:"name"`
	Handled uint64 `json:"handled"`
	Dropped uint64 `json:"dropped"`
}

type status struct {
	Reminders []reminderStatus       `json:"reminders"`
	Armed     int                    `json:"armed"`
	Services  []serviceStatus        `json:"services"`
	Sinks     []string               `json:"sinks"`
	History   []notifier.HistoryItem `json:"history"`
	Playing   *bool                  `json:"tv_playing,omitempty"`
}

// Status is the snapshot served on /debug/status.
func (a *App) Status() any {
	st := status{
		Armed: a.sched.Armed(),
		Sinks: a.notif.Sinks(),
	}
	for _, r := range a.store.List() {
		rs := reminderStatus{
			ID:      r.ID,
			Time:    r.Time.String(),
			Weekday: r.Weekday,
			Concept: r.Concept,
			State:   a.sched.State(r.ID),
		}
		if next, ok := a.sched.Next(r.ID); ok {
			rs.Next = &next
		}
		st.Reminders = append(st.Reminders, rs)
	}
	for _, name := range a.router.Services() {
		h, d := a.router.Stats(name)
		st.Services = append(st.Services, serviceStatus{Name: name, Handled: h, Dropped: d})
	}
	st.History = a.notif.History()
	if a.kodi != nil {
		p := a.kodi.Playing()
		st.Playing = &p
	}
	return st
}

func mapDebugConfig(cfg *config.Config) debughttp.Config {
	p := cfg.Debug.Pprof
	return debughttp.Config{
		Enabled:              p.Enabled,
		Addr:                 p.Address,
		BlockProfileRate:     p.BlockProfileRate,
		MutexProfileFraction: p.MutexProfileFraction,
	}
}
