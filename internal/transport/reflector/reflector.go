// Package reflector orders intents from every connected replica into one
// stream, stamps each entry with a sequence number and a virtual time, and
// fans the stream back out. It runs its own replica so late joiners can start
// from a snapshot.
package reflector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	plog "pixelpandemonium.ai/internal/persistence/log"
	"pixelpandemonium.ai/internal/persistence/snapshot"
	"pixelpandemonium.ai/internal/protocol"
	"pixelpandemonium.ai/internal/sim/canvas"
	"pixelpandemonium.ai/internal/sim/catalogs"
	"pixelpandemonium.ai/internal/sim/session"
	"pixelpandemonium.ai/internal/sim/tuning"
)

type Config struct {
	Tuning   tuning.Tuning
	Catalogs *catalogs.Catalogs
	// DataDir, when set, receives the order log and periodic snapshots.
	DataDir string
}

type Reflector struct {
	cfg       Config
	log       *log.Logger
	sessionID string
	validator *protocol.IntentValidator

	replica *session.Replica
	orders  *plog.OrderLogger

	start time.Time
	now   func() time.Time

	seq      uint64
	lastTime int64
	clients  map[string]*peer

	publish chan publishReq
	join    chan joinReq
	leave   chan string
	stateCh chan chan State
	done    chan struct{}

	upgrader websocket.Upgrader
}

type peer struct {
	id   string
	name string
	out  chan []byte
}

type publishReq struct {
	scope string
	name  string
	body  json.RawMessage
}

type joinReq struct {
	name string
	resp chan joinResp
}

type joinResp struct {
	welcome protocol.WelcomeMsg
	peer    *peer
	err     error
}

func New(cfg Config, logger *log.Logger) (*Reflector, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.Catalogs == nil {
		cfg.Catalogs = catalogs.Default()
	}
	cfg.Tuning.Normalize()
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	v, err := protocol.NewIntentValidator()
	if err != nil {
		return nil, err
	}
	rep, err := session.New(canvas.Config{Tuning: cfg.Tuning, Catalogs: cfg.Catalogs}, 0, logger)
	if err != nil {
		return nil, err
	}
	rep.Subscribe(session.Any, session.Any, func(scope, name string, _ any) {
		broadcastsTotal.WithLabelValues(scope, name).Inc()
	})

	r := &Reflector{
		cfg:       cfg,
		log:       logger,
		sessionID: uuid.NewString(),
		validator: v,
		replica:   rep,
		now:       time.Now,
		clients:   map[string]*peer{},
		publish:   make(chan publishReq, 256),
		join:      make(chan joinReq),
		leave:     make(chan string, 64),
		stateCh:   make(chan chan State),
		done:      make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	if cfg.DataDir != "" {
		r.orders = plog.NewOrderLogger(cfg.DataDir)
		if err := r.writeSnapshot(); err != nil {
			return nil, fmt.Errorf("session snapshot: %w", err)
		}
	}
	return r, nil
}

func (r *Reflector) SessionID() string { return r.sessionID }

// Run is the sequencer loop. It owns the sequence counter, the virtual clock,
// the reflector replica and the peer set.
func (r *Reflector) Run(ctx context.Context) error {
	r.start = r.now()
	hb := time.Duration(r.cfg.Tuning.Reflector.HeartbeatMS) * time.Millisecond
	ticker := time.NewTicker(hb)
	defer ticker.Stop()
	defer close(r.done)
	defer r.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-r.join:
			req.resp <- r.handleJoin(req.name)
		case id := <-r.leave:
			r.drop(id, "left")
		case req := <-r.publish:
			if err := r.emit(protocol.Ordered{Type: protocol.TypeMsg, Scope: req.scope, Name: req.name, Payload: req.body}); err != nil {
				return err
			}
		case resp := <-r.stateCh:
			resp <- r.state()
		case <-ticker.C:
			if err := r.emit(protocol.Ordered{Type: protocol.TypeTick}); err != nil {
				return err
			}
		}
	}
}

// requestLeave never blocks once the sequencer has stopped.
func (r *Reflector) requestLeave(id string) {
	select {
	case r.leave <- id:
	case <-r.done:
	}
}

func (r *Reflector) virtualNow() int64 {
	t := r.now().Sub(r.start).Milliseconds()
	if t < r.lastTime {
		t = r.lastTime
	}
	return t
}

// emit stamps msg, applies it to the reflector replica and fans it out. A
// replica fault here means every replica would fault too, so the session
// stops.
func (r *Reflector) emit(msg protocol.Ordered) error {
	r.seq++
	msg.Seq = r.seq
	msg.Time = r.virtualNow()
	r.lastTime = msg.Time

	began := time.Now()
	if err := r.replica.Deliver(msg); err != nil {
		return fmt.Errorf("reflector replica: %w", err)
	}
	deliverSeconds.Observe(time.Since(began).Seconds())
	orderedTotal.WithLabelValues(msg.Type).Inc()
	lastSeq.Set(float64(msg.Seq))

	if r.orders != nil {
		if err := r.orders.WriteOrder(msg, r.replica.Digest()); err != nil {
			r.log.Printf("order log: %v", err)
		}
		if every := r.cfg.Tuning.Reflector.SnapshotEverySeq; every > 0 && msg.Seq%every == 0 {
			if err := r.writeSnapshot(); err != nil {
				r.log.Printf("snapshot seq=%d: %v", msg.Seq, err)
			}
		}
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	for id, p := range r.clients {
		select {
		case p.out <- b:
		default:
			// Dropping an ordered message would fork the replica.
			evictionsTotal.Inc()
			r.drop(id, "outbound queue full")
		}
	}
	return nil
}

func (r *Reflector) handleJoin(name string) joinResp {
	snap, err := snapshot.Marshal(r.replica.Export(r.sessionID))
	if err != nil {
		return joinResp{err: err}
	}
	p := &peer{
		id:   uuid.NewString(),
		name: name,
		out:  make(chan []byte, r.cfg.Tuning.Reflector.ClientQueue),
	}
	r.clients[p.id] = p
	clientsConnected.Set(float64(len(r.clients)))
	r.log.Printf("join replica=%s name=%s seq=%d", p.id, name, r.seq)
	return joinResp{
		peer: p,
		welcome: protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       r.sessionID,
			ReplicaID:       p.id,
			Seq:             r.seq,
			Time:            r.replica.Now(),
			Snapshot:        snap,
		},
	}
}

func (r *Reflector) drop(id, reason string) {
	p, ok := r.clients[id]
	if !ok {
		return
	}
	delete(r.clients, id)
	close(p.out)
	clientsConnected.Set(float64(len(r.clients)))
	r.log.Printf("leave replica=%s name=%s: %s", id, p.name, reason)
}

func (r *Reflector) shutdown() {
	for id := range r.clients {
		r.drop(id, "shutdown")
	}
	if r.orders != nil {
		if err := r.writeSnapshot(); err != nil {
			r.log.Printf("final snapshot: %v", err)
		}
		_ = r.orders.Close()
	}
}

func (r *Reflector) writeSnapshot() error {
	path := filepath.Join(r.cfg.DataDir, "snapshots", fmt.Sprintf("%d.snap.zst", r.seq))
	return snapshot.WriteSnapshot(path, r.replica.Export(r.sessionID))
}
