package models

import "time"

// TickRecord is one row of the sim_ticks log.
// Vehicle rows are overwritten each tick; this table only keeps run metadata.
type TickRecord struct {
	TickID     string    `json:"tickId"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Delivered  int       `json:"delivered"`
}

// Duration returns how long the tick took
func (r TickRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
