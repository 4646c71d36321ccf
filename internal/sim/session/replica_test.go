package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"pixelpandemonium.ai/internal/persistence/snapshot"
	"pixelpandemonium.ai/internal/protocol"
	"pixelpandemonium.ai/internal/sim/canvas"
	"pixelpandemonium.ai/internal/sim/catalogs"
	"pixelpandemonium.ai/internal/sim/tuning"
)

func testConfig() canvas.Config {
	return canvas.Config{Tuning: tuning.Defaults(), Catalogs: catalogs.Default()}
}

func newTestReplica(t *testing.T) *Replica {
	t.Helper()
	r, err := New(testConfig(), 0, nil)
	if err != nil {
		t.Fatalf("replica: %v", err)
	}
	r.Strict = true
	return r
}

func intent(seq uint64, at int64, scope, name string, v any) protocol.Ordered {
	b, _ := json.Marshal(v)
	return protocol.Ordered{Type: protocol.TypeMsg, Seq: seq, Time: at, Scope: scope, Name: name, Payload: b}
}

// script is a mixed ordered stream: placements by three players, heartbeats,
// purchases, activations, chat, mints and a manual event, spread over a few
// minutes of virtual time so events start and end on their own.
func script(n int) []protocol.Ordered {
	players := []string{"0xaaa", "0xbbb", "0xccc"}
	var out []protocol.Ordered
	at := int64(0)
	for i := 0; i < n; i++ {
		seq := uint64(i + 1)
		at += 250
		p := players[i%len(players)]
		switch {
		case i%10 == 9:
			out = append(out, protocol.Ordered{Type: protocol.TypeTick, Seq: seq, Time: at})
		case i == 150:
			out = append(out, intent(seq, at, protocol.ScopeEvent, protocol.IntentTriggerEvent, protocol.TriggerEvent{Type: "PIXEL_RAIN"}))
		case i%97 == 50:
			out = append(out, intent(seq, at, protocol.ScopePowerUp, protocol.IntentBuyPowerUp, protocol.BuyPowerUp{PowerUpType: "PIXEL_SHIELD", PlayerAddress: p}))
		case i%97 == 51:
			out = append(out, intent(seq, at, protocol.ScopePowerUp, protocol.IntentActivatePowerUp, protocol.ActivatePowerUp{PowerUpType: "PIXEL_SHIELD", PlayerAddress: players[(i-1)%len(players)]}))
		case i%53 == 7:
			out = append(out, intent(seq, at, protocol.ScopeChat, protocol.IntentSendMessage, protocol.ChatMessage{ID: fmt.Sprint(i), Text: "gm", Sender: p, Timestamp: at}))
		case i%71 == 3:
			out = append(out, intent(seq, at, protocol.ScopeNFT, protocol.IntentMintNFT, protocol.NFTMint{ID: fmt.Sprint(i), Name: "snap", Creator: p, MintedAt: at}))
		default:
			out = append(out, intent(seq, at, protocol.ScopeCanvas, protocol.IntentSetPixel, protocol.SetPixel{Index: (i * 31) % canvas.Cells, Color: "#102030", Player: p}))
		}
	}
	return out
}

func TestDeterminism_SameStreamSameDigest(t *testing.T) {
	r1 := newTestReplica(t)
	r2 := newTestReplica(t)
	if r1.Digest() != r2.Digest() {
		t.Fatalf("fresh replicas differ")
	}
	for _, msg := range script(1200) {
		if err := r1.Deliver(msg); err != nil {
			t.Fatalf("r1 seq %d: %v", msg.Seq, err)
		}
		if err := r2.Deliver(msg); err != nil {
			t.Fatalf("r2 seq %d: %v", msg.Seq, err)
		}
		if d1, d2 := r1.Digest(), r2.Digest(); d1 != d2 {
			t.Fatalf("digest mismatch at seq %d: %s vs %s", msg.Seq, d1, d2)
		}
	}
	if r1.Model().TotalPixels() == 0 {
		t.Fatalf("script placed nothing")
	}
}

func TestDeterminism_DifferentSeedDiverges(t *testing.T) {
	r1 := newTestReplica(t)
	cfg := testConfig()
	cfg.Tuning.Seed = 7
	r2, err := New(cfg, 0, nil)
	if err != nil {
		t.Fatalf("replica: %v", err)
	}
	msg := script(1)[0]
	_ = r1.Deliver(msg)
	_ = r2.Deliver(msg)
	if r1.Digest() == r2.Digest() {
		t.Fatalf("different seeds produced the same state")
	}
}

func TestSnapshot_RestoreMidSessionContinuesIdentically(t *testing.T) {
	stream := script(1500)
	r1 := newTestReplica(t)
	for _, msg := range stream[:700] {
		if err := r1.Deliver(msg); err != nil {
			t.Fatalf("seq %d: %v", msg.Seq, err)
		}
	}

	raw, err := snapshot.Marshal(r1.Export("s1"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	snap, err := snapshot.Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	r2, err := Restore(catalogs.Default(), snap, nil)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	r2.Strict = true
	if r2.Seq() != 700 || r2.PendingTimers() != r1.PendingTimers() {
		t.Fatalf("restored seq=%d timers=%d", r2.Seq(), r2.PendingTimers())
	}
	if r1.Digest() != r2.Digest() {
		t.Fatalf("digest mismatch right after restore")
	}
	for _, msg := range stream[700:] {
		if err := r1.Deliver(msg); err != nil {
			t.Fatalf("r1 seq %d: %v", msg.Seq, err)
		}
		if err := r2.Deliver(msg); err != nil {
			t.Fatalf("r2 seq %d: %v", msg.Seq, err)
		}
		if r1.Digest() != r2.Digest() {
			t.Fatalf("digest mismatch at seq %d", msg.Seq)
		}
	}
}

func TestRestore_RejectsCatalogMismatch(t *testing.T) {
	r := newTestReplica(t)
	snap := r.Export("s")
	snap.Header.CatalogsDigest = "deadbeef"
	if _, err := Restore(catalogs.Default(), snap, nil); err == nil {
		t.Fatalf("restore accepted a foreign catalog digest")
	}
}

func TestDeliver_SeqGapIsConsistencyFault(t *testing.T) {
	r, err := New(testConfig(), 0, nil)
	if err != nil {
		t.Fatalf("replica: %v", err)
	}
	if err := r.Deliver(protocol.Ordered{Type: protocol.TypeTick, Seq: 1, Time: 10}); err != nil {
		t.Fatalf("tick: %v", err)
	}
	err = r.Deliver(protocol.Ordered{Type: protocol.TypeTick, Seq: 3, Time: 20})
	if !errors.Is(err, canvas.ErrConsistency) {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(r.Fault(), canvas.ErrConsistency) {
		t.Fatalf("fault = %v", r.Fault())
	}
	if err := r.Deliver(protocol.Ordered{Type: protocol.TypeTick, Seq: 2, Time: 20}); err == nil {
		t.Fatalf("a stopped replica accepted a message")
	}
}

func TestDeliver_StrictPanicsOnUnknownRoute(t *testing.T) {
	r := newTestReplica(t)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_ = r.Deliver(protocol.Ordered{Type: protocol.TypeMsg, Seq: 1, Time: 1, Scope: "canvas", Name: "explode"})
}

func TestDeliver_MalformedPayloadIsCounted(t *testing.T) {
	r := newTestReplica(t)
	err := r.Deliver(protocol.Ordered{Type: protocol.TypeMsg, Seq: 1, Time: 1, Scope: protocol.ScopeCanvas, Name: protocol.IntentSetPixel, Payload: json.RawMessage(`{"index":"x"}`)})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if r.Malformed() != 1 || r.Seq() != 1 {
		t.Fatalf("malformed=%d seq=%d", r.Malformed(), r.Seq())
	}
	if r.Fault() != nil {
		t.Fatalf("malformed payload stopped the replica: %v", r.Fault())
	}
}

func TestDeliver_TimersFireBeforeMessageAtTheirOwnTime(t *testing.T) {
	r := newTestReplica(t)
	var starts []protocol.EventDescriptor
	var updates []int64
	r.Subscribe(protocol.ScopeEvent, Any, func(scope, name string, payload any) {
		switch v := payload.(type) {
		case protocol.EventDescriptor:
			starts = append(starts, v)
		case protocol.EventUpdate:
			updates = append(updates, v.TimeLeft)
		}
	})
	if err := r.Deliver(intent(1, 100, protocol.ScopeEvent, protocol.IntentTriggerEvent, protocol.TriggerEvent{Type: "FREEZE_CHAOS"})); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	// One message 5.5s later releases five countdown ticks.
	if err := r.Deliver(protocol.Ordered{Type: protocol.TypeTick, Seq: 2, Time: 5600}); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(starts) != 1 || starts[0].StartedAt != 100 {
		t.Fatalf("starts = %+v", starts)
	}
	want := []int64{59000, 58000, 57000, 56000, 55000}
	if len(updates) != len(want) {
		t.Fatalf("updates = %v", updates)
	}
	for i := range want {
		if updates[i] != want[i] {
			t.Fatalf("updates = %v", updates)
		}
	}
	if r.Now() != 5600 {
		t.Fatalf("now = %d", r.Now())
	}
}

func TestDeliver_TimeMustNotGoBackwards(t *testing.T) {
	r, err := New(testConfig(), 0, nil)
	if err != nil {
		t.Fatalf("replica: %v", err)
	}
	_ = r.Deliver(protocol.Ordered{Type: protocol.TypeTick, Seq: 1, Time: 100})
	if err := r.Deliver(protocol.Ordered{Type: protocol.TypeTick, Seq: 2, Time: 50}); !errors.Is(err, canvas.ErrConsistency) {
		t.Fatalf("err = %v", err)
	}
}

func TestRun_DeliversUntilInboxCloses(t *testing.T) {
	r := newTestReplica(t)
	inbox := make(chan protocol.Ordered, 16)
	for _, msg := range script(16) {
		inbox <- msg
	}
	close(inbox)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Run(ctx, inbox); err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.Seq() != 16 {
		t.Fatalf("seq = %d", r.Seq())
	}
}

func TestRun_StopsOnFault(t *testing.T) {
	r, err := New(testConfig(), 0, nil)
	if err != nil {
		t.Fatalf("replica: %v", err)
	}
	inbox := make(chan protocol.Ordered, 2)
	inbox <- protocol.Ordered{Type: protocol.TypeTick, Seq: 5, Time: 1}
	err = r.Run(context.Background(), inbox)
	if !errors.Is(err, canvas.ErrConsistency) {
		t.Fatalf("err = %v", err)
	}
}

func TestHub_SubscribeAndCancel(t *testing.T) {
	h := NewHub()
	var got []string
	cancel := h.Subscribe(protocol.ScopeCanvas, protocol.BroadcastPixelsUpdated, func(scope, name string, payload any) {
		got = append(got, name)
	})
	all := 0
	h.Subscribe(Any, Any, func(string, string, any) { all++ })

	h.Publish(protocol.ScopeCanvas, protocol.BroadcastPixelsUpdated, nil)
	h.Publish(protocol.ScopeCanvas, protocol.BroadcastStatsUpdated, nil)
	cancel()
	cancel()
	h.Publish(protocol.ScopeCanvas, protocol.BroadcastPixelsUpdated, nil)

	if len(got) != 1 || all != 3 {
		t.Fatalf("got=%v all=%d", got, all)
	}
}
