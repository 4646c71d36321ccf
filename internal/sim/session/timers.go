package session

import (
	"container/heap"

	"pixelpandemonium.ai/internal/persistence/snapshot"
	"pixelpandemonium.ai/internal/sim/canvas"
)

type scheduled struct {
	At    int64
	Seq   uint64
	Timer canvas.Timer
}

// timerQueue is a min-heap ordered by (At, Seq).
type timerQueue []scheduled

func (q timerQueue) Len() int { return len(q) }
func (q timerQueue) Less(i, j int) bool {
	if q[i].At != q[j].At {
		return q[i].At < q[j].At
	}
	return q[i].Seq < q[j].Seq
}
func (q timerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *timerQueue) Push(x any)   { *q = append(*q, x.(scheduled)) }
func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

func (q *timerQueue) push(s scheduled) { heap.Push(q, s) }

// popDue removes the earliest timer if it is due at or before t.
func (q *timerQueue) popDue(t int64) (scheduled, bool) {
	if q.Len() == 0 || (*q)[0].At > t {
		return scheduled{}, false
	}
	return heap.Pop(q).(scheduled), true
}

// sorted returns the pending timers in firing order without disturbing q.
func (q timerQueue) sorted() []scheduled {
	cp := make(timerQueue, len(q))
	copy(cp, q)
	out := make([]scheduled, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(scheduled))
	}
	return out
}

func exportTimers(q timerQueue) []snapshot.TimerV1 {
	out := make([]snapshot.TimerV1, 0, len(q))
	for _, s := range q.sorted() {
		out = append(out, snapshot.TimerV1{
			At:      s.At,
			Seq:     s.Seq,
			Kind:    s.Timer.Kind,
			Serial:  s.Timer.Serial,
			Player:  s.Timer.Player,
			PowerUp: s.Timer.PowerUp,
			Expiry:  s.Timer.Expiry,
		})
	}
	return out
}

func importTimers(in []snapshot.TimerV1) timerQueue {
	q := make(timerQueue, 0, len(in))
	for _, t := range in {
		q = append(q, scheduled{
			At:  t.At,
			Seq: t.Seq,
			Timer: canvas.Timer{
				Kind:    t.Kind,
				Serial:  t.Serial,
				Player:  t.Player,
				PowerUp: t.PowerUp,
				Expiry:  t.Expiry,
			},
		})
	}
	heap.Init(&q)
	return q
}
