package canvas

import (
	"testing"

	"pixelpandemonium.ai/internal/persistence/snapshot"
	"pixelpandemonium.ai/internal/protocol"
	"pixelpandemonium.ai/internal/sim/tuning"
)

func TestSnapshot_RoundTripKeepsDigest(t *testing.T) {
	h := newHarness(t)
	h.earn("0xabc", 40)
	h.buy("0xabc", "PIXEL_SHIELD")
	h.buy("0xabc", "RAINBOW_BRUSH")
	h.now = 100
	h.activate("0xabc", "PIXEL_SHIELD")
	h.activate("0xabc", "RAINBOW_BRUSH")
	if err := h.m.TriggerEvent(h.now, protocol.TriggerEvent{Type: "PIXEL_RAIN"}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	_ = h.m.SendMessage(h.now, protocol.ChatMessage{ID: "c1", Text: "gm", Sender: "0xabc", Timestamp: 1})
	_ = h.m.RecordMint(h.now, protocol.NFTMint{ID: "n1", Name: "one", Creator: "0xabc", MintedAt: 1})

	raw, err := snapshot.Marshal(snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, Seq: 1},
		Tuning: h.m.Tuning(),
		Canvas: h.m.ExportSnapshot(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	snap, err := snapshot.Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	r := newHarnessWith(t, snap.Tuning)
	if err := r.m.ImportSnapshot(snap.Canvas); err != nil {
		t.Fatalf("import: %v", err)
	}
	if r.m.Digest() != h.m.Digest() {
		t.Fatalf("digest mismatch after restore")
	}

	for i := 0; i < 20; i++ {
		h.place(i*7, "#0F0F0F", "0xabc")
		r.place(i*7, "#0F0F0F", "0xabc")
		if h.m.Digest() != r.m.Digest() {
			t.Fatalf("digest diverged at placement %d", i)
		}
	}
}

func TestImportSnapshot_RejectsBadGrid(t *testing.T) {
	h := newHarnessWith(t, tuning.Defaults())
	s := h.m.ExportSnapshot()
	s.Grid = s.Grid[:10]
	if err := h.m.ImportSnapshot(s); err == nil {
		t.Fatalf("short grid accepted")
	}
	s = h.m.ExportSnapshot()
	s.Grid[3] = "blue"
	if err := h.m.ImportSnapshot(s); err == nil {
		t.Fatalf("bad colour accepted")
	}
}
