package canvas

import (
	"sort"
	"testing"

	"pixelpandemonium.ai/internal/sim/catalogs"
	"pixelpandemonium.ai/internal/sim/tuning"
)

type broadcast struct {
	scope, name string
	payload     any
}

type pendingTimer struct {
	at  int64
	seq int
	t   Timer
}

// harness stands in for the replica: it records broadcasts and fires queued
// timers in (at, insertion) order.
type harness struct {
	t      *testing.T
	m      *Model
	now    int64
	got    []broadcast
	timers []pendingTimer
	nextID int
}

func (h *harness) Publish(scope, name string, payload any) {
	h.got = append(h.got, broadcast{scope: scope, name: name, payload: payload})
}

func (h *harness) ScheduleAt(at int64, t Timer) {
	h.nextID++
	h.timers = append(h.timers, pendingTimer{at: at, seq: h.nextID, t: t})
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, tuning.Defaults())
}

func newHarnessWith(t *testing.T, tun tuning.Tuning) *harness {
	t.Helper()
	h := &harness{t: t}
	m, err := New(Config{Tuning: tun, Catalogs: catalogs.Default()}, h, h)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	h.m = m
	return h
}

// advance fires every timer due at or before to, then sets now.
func (h *harness) advance(to int64) {
	h.t.Helper()
	for {
		sort.SliceStable(h.timers, func(i, j int) bool {
			if h.timers[i].at != h.timers[j].at {
				return h.timers[i].at < h.timers[j].at
			}
			return h.timers[i].seq < h.timers[j].seq
		})
		if len(h.timers) == 0 || h.timers[0].at > to {
			break
		}
		p := h.timers[0]
		h.timers = h.timers[1:]
		h.now = p.at
		if err := h.m.FireTimer(p.at, p.t); err != nil {
			h.t.Fatalf("timer %s at %d: %v", p.t.Kind, p.at, err)
		}
	}
	h.now = to
}

func (h *harness) reset() { h.got = nil }

func (h *harness) count(scope, name string) int {
	n := 0
	for _, b := range h.got {
		if b.scope == scope && b.name == name {
			n++
		}
	}
	return n
}

func (h *harness) pending(kind string) []pendingTimer {
	var out []pendingTimer
	for _, p := range h.timers {
		if p.t.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// earn gives player n pixels by placing them on cell 0.
func (h *harness) earn(player string, n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		h.place(0, "#000000", player)
	}
}
