package reflector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"pixelpandemonium.ai/internal/protocol"
)

// State is the /v1/state view of the reflector replica.
type State struct {
	SessionID     string                      `json:"session_id"`
	Seq           uint64                      `json:"seq"`
	Time          int64                       `json:"time"`
	Digest        string                      `json:"digest"`
	Clients       int                         `json:"clients"`
	PendingTimers int                         `json:"pending_timers"`
	TotalPixels   int64                       `json:"total_pixels"`
	ActiveEvent   *protocol.EventDescriptor   `json:"active_event,omitempty"`
	TimeLeft      int64                       `json:"time_left,omitempty"`
	Leaderboard   []protocol.LeaderboardEntry `json:"leaderboard"`

	PowerUps map[string]protocol.PowerUpDescriptor `json:"power_ups"`
}

func (r *Reflector) state() State {
	m := r.replica.Model()
	st := State{
		SessionID:     r.sessionID,
		Seq:           r.replica.Seq(),
		Time:          r.replica.Now(),
		Digest:        r.replica.Digest(),
		Clients:       len(r.clients),
		PendingTimers: r.replica.PendingTimers(),
		TotalPixels:   m.TotalPixels(),
		Leaderboard:   m.Leaderboard(m.Tuning().LeaderboardSize),
		PowerUps:      m.PowerUpCatalog(),
	}
	if ev, ok := m.ActiveEvent(); ok {
		st.ActiveEvent = &protocol.EventDescriptor{
			Type:        ev.Kind,
			Name:        ev.Name,
			Description: ev.Description,
			Duration:    ev.DurationMS,
			Color:       ev.Color,
			Multiplier:  ev.Multiplier,
			Effect:      ev.Effect,
			StartedAt:   ev.StartedAt,
		}
		st.TimeLeft = ev.RemainingMS
	}
	return st
}

// State asks the sequencer for a consistent view. It blocks until Run
// answers or ctx ends.
func (r *Reflector) State(ctx context.Context) (State, error) {
	resp := make(chan State, 1)
	select {
	case r.stateCh <- resp:
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-r.done:
		return State{}, errors.New("session closed")
	}
	select {
	case st := <-resp:
		return st, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

func (r *Reflector) StateHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		st, err := r.State(req.Context())
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(st)
	}
}
