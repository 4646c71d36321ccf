package reflector_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	plog "pixelpandemonium.ai/internal/persistence/log"
	"pixelpandemonium.ai/internal/persistence/snapshot"
	"pixelpandemonium.ai/internal/protocol"
	"pixelpandemonium.ai/internal/sim/catalogs"
	"pixelpandemonium.ai/internal/sim/session"
	"pixelpandemonium.ai/internal/sim/tuning"
	"pixelpandemonium.ai/internal/transport/client"
	"pixelpandemonium.ai/internal/transport/reflector"
)

type env struct {
	t      *testing.T
	refl   *reflector.Reflector
	srv    *httptest.Server
	wsURL  string
	ctx    context.Context
	cancel context.CancelFunc
	runErr chan error
}

func startEnv(t *testing.T, mutate func(*reflector.Config)) *env {
	t.Helper()
	tun := tuning.Defaults()
	// No heartbeats during a test: sequence numbers only move on intents.
	tun.Reflector.HeartbeatMS = 3600 * 1000
	cfg := reflector.Config{Tuning: tun, Catalogs: catalogs.Default()}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := reflector.New(cfg, nil)
	if err != nil {
		t.Fatalf("reflector: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", r.Handler())
	mux.HandleFunc("/v1/state", r.StateHandler())
	srv := httptest.NewServer(mux)

	ctx, cancel := context.WithCancel(context.Background())
	e := &env{
		t:      t,
		refl:   r,
		srv:    srv,
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws",
		ctx:    ctx,
		cancel: cancel,
		runErr: make(chan error, 1),
	}
	go func() { e.runErr <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		<-e.runErr
	})
	return e
}

func (e *env) dial(name string) *client.Client {
	e.t.Helper()
	c, err := client.Dial(e.ctx, e.wsURL, name, catalogs.Default(), nil)
	if err != nil {
		e.t.Fatalf("dial %s: %v", name, err)
	}
	go func() { _ = c.Run(e.ctx) }()
	e.t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func seqOf(c *client.Client) uint64 {
	var s uint64
	c.View(func(r *session.Replica) { s = r.Seq() })
	return s
}

func digestOf(c *client.Client) string {
	var d string
	c.View(func(r *session.Replica) { d = r.Digest() })
	return d
}

func TestReflector_ReplicasConverge(t *testing.T) {
	e := startEnv(t, nil)
	a := e.dial("alice")
	b := e.dial("bob")

	var seen atomic.Int32
	b.Subscribe(protocol.ScopeCanvas, protocol.BroadcastPixelsUpdated, func(string, string, any) { seen.Add(1) })

	for i := 0; i < 10; i++ {
		c := a
		if i%2 == 1 {
			c = b
		}
		if err := c.Publish(protocol.ScopeCanvas, protocol.IntentSetPixel, protocol.SetPixel{Index: i, Color: "#FF0000", Player: c.ReplicaID()}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := a.Publish(protocol.ScopeChat, protocol.IntentSendMessage, protocol.ChatMessage{ID: "1", Text: "gm", Sender: "alice", Timestamp: 1}); err != nil {
		t.Fatalf("publish chat: %v", err)
	}

	waitFor(t, "both replicas at seq 11", func() bool { return seqOf(a) == 11 && seqOf(b) == 11 })
	if digestOf(a) != digestOf(b) {
		t.Fatalf("replicas diverged")
	}
	st, err := e.refl.State(context.Background())
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.Seq != 11 || st.Digest != digestOf(a) || st.TotalPixels != 10 {
		t.Fatalf("reflector state = %+v", st)
	}
	if len(st.PowerUps) != 5 || st.PowerUps["PIXEL_SHIELD"].Cost != 10 {
		t.Fatalf("state power-ups = %+v", st.PowerUps)
	}
	waitFor(t, "broadcasts on bob", func() bool { return seen.Load() == 10 })

	// A late joiner starts from the snapshot and stays in step.
	c := e.dial("carol")
	if seqOf(c) != 11 || digestOf(c) != digestOf(a) {
		t.Fatalf("late joiner seq=%d digest mismatch", seqOf(c))
	}
	if err := c.Publish(protocol.ScopeCanvas, protocol.IntentSetPixel, protocol.SetPixel{Index: 500, Color: "#00FF00", Player: "carol"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, "seq 12 everywhere", func() bool { return seqOf(a) == 12 && seqOf(b) == 12 && seqOf(c) == 12 })
	if digestOf(a) != digestOf(c) || digestOf(b) != digestOf(c) {
		t.Fatalf("late joiner diverged")
	}
}

func TestClient_SubscriberMayReadReplica(t *testing.T) {
	e := startEnv(t, nil)
	c := e.dial("viewer")

	totals := make(chan int64, 4)
	c.Subscribe(protocol.ScopeCanvas, protocol.BroadcastStatsUpdated, func(string, string, any) {
		var n int64
		c.View(func(r *session.Replica) { n = r.Model().TotalPixels() })
		totals <- n
	})
	if err := c.Publish(protocol.ScopeCanvas, protocol.IntentSetPixel, protocol.SetPixel{Index: 1, Color: "#00FF00", Player: "viewer"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case n := <-totals:
		if n != 1 {
			t.Fatalf("total pixels seen from callback = %d", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("subscriber reading the replica never returned")
	}
	waitFor(t, "client keeps applying the stream", func() bool { return seqOf(c) == 1 })
}

func TestReflector_RejectsAtBoundary(t *testing.T) {
	e := startEnv(t, nil)
	a := e.dial("alice")

	expect := func(code string) {
		t.Helper()
		select {
		case em := <-a.Errors():
			if em.Code != code {
				t.Fatalf("code = %s, want %s (%s)", em.Code, code, em.Message)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no rejection for %s", code)
		}
	}

	_ = a.Publish(protocol.ScopePowerUp, protocol.IntentBuyPowerUp, protocol.BuyPowerUp{PowerUpType: "NOPE", PlayerAddress: "p"})
	expect(protocol.ErrUnknownKind)
	_ = a.Publish(protocol.ScopeEvent, protocol.IntentTriggerEvent, protocol.TriggerEvent{Type: "NOPE"})
	expect(protocol.ErrUnknownKind)
	_ = a.Publish(protocol.ScopeCanvas, protocol.BroadcastPixelsUpdated, map[string]any{})
	expect(protocol.ErrUnknownKind)
	_ = a.Publish(protocol.ScopeCanvas, protocol.IntentSetPixel, map[string]any{"index": "x", "color": "#FF0000"})
	expect(protocol.ErrBadRequest)

	if err := a.Publish(protocol.ScopeEvent, protocol.IntentTriggerEvent, protocol.TriggerEvent{Type: "FREEZE_CHAOS"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, "valid intent ordered", func() bool { return seqOf(a) == 1 })
	var active bool
	a.View(func(r *session.Replica) { _, active = r.Model().ActiveEvent() })
	if !active {
		t.Fatalf("trigger not applied")
	}
}

func TestReflector_RefusesForeignCatalogs(t *testing.T) {
	e := startEnv(t, nil)
	raw := []byte(`
events:
  - {id: ONLY, name: Only, duration_ms: 1000, color: "#000000"}
`)
	other, err := catalogs.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = client.Dial(e.ctx, e.wsURL, "mallory", other, nil)
	var rej *client.RejectedError
	if !errors.As(err, &rej) || rej.Msg.Code != protocol.ErrCatalogMismatch {
		t.Fatalf("err = %v", err)
	}
}

func TestReflector_RateLimit(t *testing.T) {
	e := startEnv(t, func(cfg *reflector.Config) {
		cfg.Tuning.Reflector.IntentsPerSecond = 0.001
		cfg.Tuning.Reflector.IntentBurst = 2
	})
	a := e.dial("spammer")
	for i := 0; i < 3; i++ {
		_ = a.Publish(protocol.ScopeCanvas, protocol.IntentSetPixel, protocol.SetPixel{Index: i, Color: "#FF0000"})
	}
	select {
	case em := <-a.Errors():
		if em.Code != protocol.ErrRateLimit {
			t.Fatalf("code = %s", em.Code)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no rate limit rejection")
	}
	waitFor(t, "two admitted intents", func() bool { return seqOf(a) == 2 })
}

func TestReflector_DataDirRecordsOrdersAndSnapshots(t *testing.T) {
	dir := t.TempDir()
	e := startEnv(t, func(cfg *reflector.Config) { cfg.DataDir = dir })
	a := e.dial("alice")
	for i := 0; i < 3; i++ {
		_ = a.Publish(protocol.ScopeCanvas, protocol.IntentSetPixel, protocol.SetPixel{Index: i, Color: "#FF0000", Player: "alice"})
	}
	waitFor(t, "seq 3", func() bool { return seqOf(a) == 3 })
	e.cancel()
	<-e.runErr
	e.runErr <- nil

	start, err := snapshot.ReadSnapshot(dir + "/snapshots/0.snap.zst")
	if err != nil {
		t.Fatalf("start snapshot: %v", err)
	}
	rep, err := session.Restore(catalogs.Default(), start, nil)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	files, err := plog.OrderFiles(dir)
	if err != nil || len(files) == 0 {
		t.Fatalf("order files = %v err=%v", files, err)
	}
	n := 0
	for _, f := range files {
		if err := plog.ScanOrders(f, func(o plog.OrderEntry) error {
			if err := rep.Deliver(o.Ordered); err != nil {
				return err
			}
			if rep.Digest() != o.Digest {
				t.Fatalf("digest mismatch at seq %d", o.Seq)
			}
			n++
			return nil
		}); err != nil {
			t.Fatalf("scan: %v", err)
		}
	}
	if n != 3 {
		t.Fatalf("replayed %d entries", n)
	}
	if _, err := snapshot.ReadHeader(dir + "/snapshots/3.snap.zst"); err != nil {
		t.Fatalf("final snapshot: %v", err)
	}
}
