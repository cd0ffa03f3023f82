package reminder

import (
	"encoding/json"
	"time"
)

type legacyEntry struct {
	Tiempo int64 `json:"tiempo"`
	Sonido int   `json:"sonido"`
}

type legacyView struct {
	Recordatorios []legacyEntry `json:"recordatorios"`
}

type idEntry struct {
	Tiempo int64  `json:"tiempo"`
	Dia    int    `json:"dia"`
	Sonido int    `json:"sonido"`
	ID     string `json:"id"`
}

type idView struct {
	Recordatorios []idEntry `json:"recordatorios"`
}

// LegacyView renders the list with milliseconds until each next occurrence.
// ok is false for an empty store; callers publish nothing in that case.
func (s *Store) LegacyView(now time.Time) (payload []byte, ok bool, err error) {
	list := s.List()
	if len(list) == 0 {
		return nil, false, nil
	}
	v := legacyView{Recordatorios: make([]legacyEntry, 0, len(list))}
	for _, r := range list {
		v.Recordatorios = append(v.Recordatorios, legacyEntry{
			Tiempo: MillisUntil(r.Time, r.Weekday, now),
			Sonido: r.Concept,
		})
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// IDView renders the list with the time of day in milliseconds, weekday and
// id. An empty store yields an empty list.
func (s *Store) IDView() ([]byte, error) {
	list := s.List()
	v := idView{Recordatorios: make([]idEntry, 0, len(list))}
	for _, r := range list {
		v.Recordatorios = append(v.Recordatorios, idEntry{
			Tiempo: int64(r.Time.Hour)*3_600_000 + int64(r.Time.Minute)*60_000,
			Dia:    r.Weekday,
			Sonido: r.Concept,
			ID:     r.ID,
		})
	}
	return json.Marshal(v)
}
