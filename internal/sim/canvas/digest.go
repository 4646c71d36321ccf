package canvas

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
)

// Digest hashes every piece of replicated model state in a fixed order.
func (m *Model) Digest() string {
	h := sha256.New()
	m.WriteDigest(h)
	return hex.EncodeToString(h.Sum(nil))
}

// WriteDigest feeds the model state into h so callers can extend the hash
// with their own state.
func (m *Model) WriteDigest(h hash.Hash) {
	var tmp [8]byte
	writeU64(h, &tmp, m.rng.State())
	writeU64(h, &tmp, m.eventSerial)

	for i := 0; i < Cells; i++ {
		writeStr(h, &tmp, m.grid.At(i))
	}

	writeI64(h, &tmp, m.totalPixels)
	for _, p := range sortedKeys(m.stats) {
		writeStr(h, &tmp, p)
		writeI64(h, &tmp, m.stats[p].PixelsPlaced)
	}

	if ev := m.event; ev != nil {
		h.Write([]byte{1})
		writeStr(h, &tmp, ev.Kind)
		writeI64(h, &tmp, ev.DurationMS)
		writeI64(h, &tmp, ev.RemainingMS)
		writeI64(h, &tmp, int64(ev.Multiplier))
		writeStr(h, &tmp, ev.Effect)
		writeU64(h, &tmp, ev.Serial)
		writeI64(h, &tmp, ev.StartedAt)
	} else {
		h.Write([]byte{0})
	}

	idx := make([]int, 0, len(m.protected))
	for i := range m.protected {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	writeU64(h, &tmp, uint64(len(idx)))
	for _, i := range idx {
		writeI64(h, &tmp, int64(i))
		writeI64(h, &tmp, m.protected[i])
	}

	writeU64(h, &tmp, uint64(len(m.inventory)))
	for _, p := range sortedKeys(m.inventory) {
		writeStr(h, &tmp, p)
		inv := m.inventory[p]
		for _, k := range sortedKeys(inv) {
			writeStr(h, &tmp, k)
			writeI64(h, &tmp, int64(inv[k].Quantity))
			writeI64(h, &tmp, inv[k].LastUsed)
		}
	}

	writeU64(h, &tmp, uint64(len(m.active)))
	for _, k := range sortedKeys(m.active) {
		writeStr(h, &tmp, k)
		writeI64(h, &tmp, m.active[k])
	}

	writeU64(h, &tmp, uint64(len(m.charges)))
	for _, p := range sortedKeys(m.charges) {
		writeStr(h, &tmp, p)
		ch := m.charges[p]
		for _, k := range sortedKeys(ch) {
			writeStr(h, &tmp, k)
			writeI64(h, &tmp, int64(ch[k]))
		}
	}

	writeU64(h, &tmp, uint64(len(m.chat)))
	for _, c := range m.chat {
		writeStr(h, &tmp, c.ID)
		writeStr(h, &tmp, c.Text)
		writeStr(h, &tmp, c.Sender)
		writeI64(h, &tmp, c.Timestamp)
	}

	writeU64(h, &tmp, uint64(len(m.nfts)))
	for _, n := range m.nfts {
		writeStr(h, &tmp, n.ID)
		writeStr(h, &tmp, n.Name)
		writeStr(h, &tmp, n.ImageData)
		writeStr(h, &tmp, n.Creator)
		writeI64(h, &tmp, n.MintedAt)
		writeStr(h, &tmp, n.MetadataURL)
		writeStr(h, &tmp, n.TxHash)
	}
}

func writeU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func writeI64(h hash.Hash, tmp *[8]byte, v int64) {
	writeU64(h, tmp, uint64(v))
}

// writeStr is length-prefixed so adjacent strings cannot alias.
func writeStr(h hash.Hash, tmp *[8]byte, s string) {
	writeU64(h, tmp, uint64(len(s)))
	h.Write([]byte(s))
}
