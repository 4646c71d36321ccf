// Package encoding packs the canvas grid for snapshots: colours become
// palette ids, and ids are run-length encoded, so a mostly blank canvas costs
// a few bytes instead of 1024 strings.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// Grid is the packed form of a colour grid.
type Grid struct {
	Palette []string `json:"palette"`
	Runs    string   `json:"runs"`
}

// PackGrid assigns palette ids in order of first appearance.
func PackGrid(colors []string) Grid {
	ids := make([]uint16, len(colors))
	index := map[string]uint16{}
	var palette []string
	for i, c := range colors {
		id, ok := index[c]
		if !ok {
			id = uint16(len(palette))
			index[c] = id
			palette = append(palette, c)
		}
		ids[i] = id
	}
	return Grid{Palette: palette, Runs: EncodeRLE(ids)}
}

// UnpackGrid expands g, refusing more than limit cells.
func UnpackGrid(g Grid, limit int) ([]string, error) {
	ids, err := DecodeRLE(g.Runs, limit)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		if int(id) >= len(g.Palette) {
			return nil, fmt.Errorf("cell %d: palette id %d out of range", i, id)
		}
		out[i] = g.Palette[id]
	}
	return out, nil
}

// EncodeRLE encodes ids into base64(varint pairs), the pairs being
// (id, run_len) repeated.
func EncodeRLE(ids []uint16) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	for i := 0; i < len(ids); {
		id := ids[i]
		run := 1
		for j := i + 1; j < len(ids) && ids[j] == id; j++ {
			run++
		}
		n := binary.PutUvarint(tmp[:], uint64(id))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])
		i += run
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeRLE(b64 string, limit int) ([]uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []uint16
	for i := 0; i < len(raw); {
		id, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if id > 0xFFFF {
			return nil, fmt.Errorf("palette id too large: %d", id)
		}
		if run == 0 || run > uint64(limit-len(out)) {
			return nil, fmt.Errorf("run of %d exceeds %d cells", run, limit)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint16(id))
		}
	}
	return out, nil
}
