// Package session runs one canvas replica: it owns the virtual clock, the
// timer queue and the broadcast hub, and applies the ordered message stream
// to the model one message at a time.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"

	"pixelpandemonium.ai/internal/persistence/snapshot"
	"pixelpandemonium.ai/internal/protocol"
	"pixelpandemonium.ai/internal/sim/canvas"
	"pixelpandemonium.ai/internal/sim/catalogs"
)

type Replica struct {
	model *canvas.Model
	hub   *Hub

	timers   timerQueue
	timerSeq uint64

	seq uint64
	now int64

	fault     error
	malformed uint64

	// Strict panics on a consistency fault instead of only stopping.
	Strict bool

	logger *log.Logger
}

func newReplica(logger *log.Logger) *Replica {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Replica{hub: NewHub(), logger: logger}
}

// New builds a replica for a fresh session starting at virtual time now. The
// first ordered message it accepts has seq 1.
func New(cfg canvas.Config, now int64, logger *log.Logger) (*Replica, error) {
	r := newReplica(logger)
	m, err := canvas.New(cfg, r.hub, r)
	if err != nil {
		return nil, err
	}
	r.model = m
	r.now = now
	m.Init(now)
	return r, nil
}

// Restore builds a replica from a snapshot. The snapshot carries the model
// tuning; catalogs must match the ones the snapshot was taken under.
func Restore(cats *catalogs.Catalogs, snap snapshot.SnapshotV1, logger *log.Logger) (*Replica, error) {
	if cats == nil {
		cats = catalogs.Default()
	}
	if snap.Header.CatalogsDigest != "" && snap.Header.CatalogsDigest != cats.Digest() {
		return nil, fmt.Errorf("restore: catalogs digest mismatch")
	}
	r := newReplica(logger)
	m, err := canvas.New(canvas.Config{Tuning: snap.Tuning, Catalogs: cats}, r.hub, r)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	if err := m.ImportSnapshot(snap.Canvas); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	r.model = m
	r.seq = snap.Header.Seq
	r.now = snap.Header.Time
	r.timerSeq = snap.TimerSeq
	r.timers = importTimers(snap.Timers)
	return r, nil
}

func (r *Replica) Export(sessionID string) snapshot.SnapshotV1 {
	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:        snapshot.Version,
			SessionID:      sessionID,
			Seq:            r.seq,
			Time:           r.now,
			CatalogsDigest: r.model.Catalogs().Digest(),
		},
		Tuning:   r.model.Tuning(),
		TimerSeq: r.timerSeq,
		Timers:   exportTimers(r.timers),
		Canvas:   r.model.ExportSnapshot(),
	}
}

func (r *Replica) Model() *canvas.Model { return r.model }
func (r *Replica) Seq() uint64          { return r.seq }
func (r *Replica) Now() int64           { return r.now }
func (r *Replica) PendingTimers() int   { return r.timers.Len() }
func (r *Replica) Malformed() uint64    { return r.malformed }
func (r *Replica) Fault() error         { return r.fault }

// Subscribe registers fn for broadcasts on (scope, name); Any matches all.
func (r *Replica) Subscribe(scope, name string, fn func(scope, name string, payload any)) (cancel func()) {
	return r.hub.Subscribe(scope, name, fn)
}

// ScheduleAt implements canvas.Scheduler.
func (r *Replica) ScheduleAt(at int64, t canvas.Timer) {
	r.timerSeq++
	r.timers.push(scheduled{At: at, Seq: r.timerSeq, Timer: t})
}

// Deliver applies one ordered message. Timers due at or before msg.Time fire
// first, each at its own scheduled time.
func (r *Replica) Deliver(msg protocol.Ordered) error {
	if r.fault != nil {
		return r.fault
	}
	if msg.Seq != r.seq+1 {
		return r.fail(fmt.Errorf("%w: seq %d after %d", canvas.ErrConsistency, msg.Seq, r.seq))
	}
	if msg.Time < r.now {
		return r.fail(fmt.Errorf("%w: time %d before %d", canvas.ErrConsistency, msg.Time, r.now))
	}
	if err := r.fireDue(msg.Time); err != nil {
		return r.fail(err)
	}
	r.seq = msg.Seq
	r.now = msg.Time

	switch msg.Type {
	case protocol.TypeTick:
		return nil
	case protocol.TypeMsg:
		err := r.model.Dispatch(r.now, msg.Scope, msg.Name, msg.Payload)
		if errors.Is(err, canvas.ErrMalformed) {
			r.malformed++
			r.logger.Printf("seq=%d %s.%s: %v", msg.Seq, msg.Scope, msg.Name, err)
			return nil
		}
		if err != nil {
			return r.fail(err)
		}
		return nil
	default:
		return r.fail(fmt.Errorf("%w: message type %q", canvas.ErrConsistency, msg.Type))
	}
}

func (r *Replica) fireDue(t int64) error {
	for {
		s, ok := r.timers.popDue(t)
		if !ok {
			return nil
		}
		r.now = s.At
		if err := r.model.FireTimer(s.At, s.Timer); err != nil {
			return err
		}
	}
}

func (r *Replica) fail(err error) error {
	r.fault = err
	r.logger.Printf("replica stopped at seq=%d: %v", r.seq, err)
	if r.Strict {
		panic(err)
	}
	return err
}

// Run delivers messages from inbox until the context ends, the inbox closes
// or a consistency fault stops the replica.
func (r *Replica) Run(ctx context.Context, inbox <-chan protocol.Ordered) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbox:
			if !ok {
				return nil
			}
			if err := r.Deliver(msg); err != nil {
				return err
			}
		}
	}
}

// Digest covers the model plus the replica clock and pending timers.
func (r *Replica) Digest() string {
	h := sha256.New()
	var tmp [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}
	put(r.seq)
	put(uint64(r.now))
	put(r.timerSeq)
	for _, s := range r.timers.sorted() {
		put(uint64(s.At))
		put(s.Seq)
		h.Write([]byte(s.Timer.Kind))
		put(s.Timer.Serial)
		h.Write([]byte(s.Timer.Player + "\x00" + s.Timer.PowerUp))
		put(uint64(s.Timer.Expiry))
	}
	r.model.WriteDigest(h)
	return hex.EncodeToString(h.Sum(nil))
}
