package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"pixelpandemonium.ai/internal/protocol"
	"pixelpandemonium.ai/internal/sim/encoding"
	"pixelpandemonium.ai/internal/sim/tuning"
)

const Version = 1

type Header struct {
	Version        int    `json:"version"`
	SessionID      string `json:"session_id,omitempty"`
	Seq            uint64 `json:"seq"`
	Time           int64  `json:"time"`
	CatalogsDigest string `json:"catalogs_digest"`
}

// SnapshotV1 is everything a replica needs to continue the ordered stream
// after Header.Seq: the model, the pending timers and the tuning the model
// was built with.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Tuning tuning.Tuning `json:"tuning"`

	TimerSeq uint64    `json:"timer_seq"`
	Timers   []TimerV1 `json:"timers"`

	Canvas CanvasV1 `json:"canvas"`
}

type TimerV1 struct {
	At      int64  `json:"at"`
	Seq     uint64 `json:"seq"`
	Kind    string `json:"kind"`
	Serial  uint64 `json:"serial,omitempty"`
	Player  string `json:"player,omitempty"`
	PowerUp string `json:"power_up,omitempty"`
	Expiry  int64  `json:"expiry,omitempty"`
}

type CanvasV1 struct {
	RNG         uint64 `json:"rng"`
	EventSerial uint64 `json:"event_serial"`

	Grid        Colors           `json:"grid"`
	Stats       map[string]int64 `json:"stats"`
	TotalPixels int64            `json:"total_pixels"`

	Event *EventV1 `json:"event,omitempty"`

	Protected map[int]int64                 `json:"protected,omitempty"`
	Inventory map[string]map[string]OwnedV1 `json:"inventory,omitempty"`
	Active    map[string]int64              `json:"active,omitempty"`
	Charges   map[string]map[string]int     `json:"charges,omitempty"`

	Chat []protocol.ChatMessage `json:"chat,omitempty"`
	NFTs []protocol.NFTMint     `json:"nfts,omitempty"`
}

// Colors is a grid in cell order. It is stored palette packed.
type Colors []string

const maxGridCells = 1 << 16

func (c Colors) MarshalJSON() ([]byte, error) {
	return json.Marshal(encoding.PackGrid(c))
}

func (c *Colors) UnmarshalJSON(b []byte) error {
	var g encoding.Grid
	if err := json.Unmarshal(b, &g); err != nil {
		return err
	}
	cells, err := encoding.UnpackGrid(g, maxGridCells)
	if err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	*c = cells
	return nil
}

type EventV1 struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	DurationMS  int64  `json:"duration_ms"`
	RemainingMS int64  `json:"remaining_ms"`
	Multiplier  int    `json:"multiplier,omitempty"`
	Effect      string `json:"effect,omitempty"`
	Serial      uint64 `json:"serial"`
	StartedAt   int64  `json:"started_at"`
}

type OwnedV1 struct {
	Quantity int   `json:"quantity"`
	LastUsed int64 `json:"last_used"`
}

// Encode writes a JSON header line followed by the JSON body, zstd-compressed.
func Encode(w io.Writer, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := json.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func Decode(r io.Reader) (SnapshotV1, error) {
	var snap SnapshotV1
	dec, err := zstd.NewReader(r)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	// The body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := json.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("json decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// Marshal and Unmarshal carry snapshots inside WELCOME messages.
func Marshal(snap SnapshotV1) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(b []byte) (SnapshotV1, error) {
	return Decode(bytes.NewReader(b))
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := Encode(f, snap); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	f, err := os.Open(path)
	if err != nil {
		return SnapshotV1{}, err
	}
	defer f.Close()
	return Decode(f)
}

// ReadHeader returns only the header line, without decoding the body.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	err = json.Unmarshal(line, &h)
	return h, err
}
