package canvas

import (
	"fmt"

	"pixelpandemonium.ai/internal/persistence/snapshot"
	"pixelpandemonium.ai/internal/protocol"
)

func (m *Model) ExportSnapshot() snapshot.CanvasV1 {
	s := snapshot.CanvasV1{
		RNG:         m.rng.State(),
		EventSerial: m.eventSerial,
		Grid:        m.grid.Colors(),
		Stats:       make(map[string]int64, len(m.stats)),
		TotalPixels: m.totalPixels,
		Protected:   make(map[int]int64, len(m.protected)),
		Inventory:   make(map[string]map[string]snapshot.OwnedV1, len(m.inventory)),
		Active:      make(map[string]int64, len(m.active)),
		Charges:     make(map[string]map[string]int, len(m.charges)),
		Chat:        append([]protocol.ChatMessage(nil), m.chat...),
		NFTs:        append([]protocol.NFTMint(nil), m.nfts...),
	}
	for p, st := range m.stats {
		s.Stats[p] = st.PixelsPlaced
	}
	if ev := m.event; ev != nil {
		s.Event = &snapshot.EventV1{
			Kind:        ev.Kind,
			Name:        ev.Name,
			Description: ev.Description,
			Color:       ev.Color,
			DurationMS:  ev.DurationMS,
			RemainingMS: ev.RemainingMS,
			Multiplier:  ev.Multiplier,
			Effect:      ev.Effect,
			Serial:      ev.Serial,
			StartedAt:   ev.StartedAt,
		}
	}
	for i, exp := range m.protected {
		s.Protected[i] = exp
	}
	for p, inv := range m.inventory {
		out := make(map[string]snapshot.OwnedV1, len(inv))
		for k, o := range inv {
			out[k] = snapshot.OwnedV1{Quantity: o.Quantity, LastUsed: o.LastUsed}
		}
		s.Inventory[p] = out
	}
	for k, exp := range m.active {
		s.Active[k] = exp
	}
	for p, ch := range m.charges {
		out := make(map[string]int, len(ch))
		for k, n := range ch {
			out[k] = n
		}
		s.Charges[p] = out
	}
	return s
}

// ImportSnapshot replaces the model state. The model must have been built
// with the tuning and catalogs the snapshot was taken under.
func (m *Model) ImportSnapshot(s snapshot.CanvasV1) error {
	if len(s.Grid) != Cells {
		return fmt.Errorf("canvas snapshot: grid has %d cells, want %d", len(s.Grid), Cells)
	}
	for i, c := range s.Grid {
		if _, ok := NormalizeColor(c); !ok {
			return fmt.Errorf("canvas snapshot: cell %d: bad colour %q", i, c)
		}
	}
	if s.Event != nil {
		if _, ok := m.cats.Events.ByID[s.Event.Kind]; !ok {
			return fmt.Errorf("canvas snapshot: unknown event kind %q", s.Event.Kind)
		}
	}

	m.rng.SetState(s.RNG)
	m.eventSerial = s.EventSerial
	for i, c := range s.Grid {
		m.grid.Set(i, c)
	}
	m.stats = make(map[string]*PlayerStat, len(s.Stats))
	for p, n := range s.Stats {
		m.stats[p] = &PlayerStat{PixelsPlaced: n}
	}
	m.totalPixels = s.TotalPixels

	m.event = nil
	if ev := s.Event; ev != nil {
		m.event = &ActiveEvent{
			Kind:        ev.Kind,
			Name:        ev.Name,
			Description: ev.Description,
			Color:       ev.Color,
			DurationMS:  ev.DurationMS,
			RemainingMS: ev.RemainingMS,
			Multiplier:  ev.Multiplier,
			Effect:      ev.Effect,
			Serial:      ev.Serial,
			StartedAt:   ev.StartedAt,
		}
	}

	m.protected = make(map[int]int64, len(s.Protected))
	for i, exp := range s.Protected {
		m.protected[i] = exp
	}
	m.inventory = make(map[string]map[string]*OwnedPowerUp, len(s.Inventory))
	for p, inv := range s.Inventory {
		out := make(map[string]*OwnedPowerUp, len(inv))
		for k, o := range inv {
			out[k] = &OwnedPowerUp{Quantity: o.Quantity, LastUsed: o.LastUsed}
		}
		m.inventory[p] = out
	}
	m.active = make(map[string]int64, len(s.Active))
	for k, exp := range s.Active {
		m.active[k] = exp
	}
	m.charges = make(map[string]map[string]int, len(s.Charges))
	for p, ch := range s.Charges {
		out := make(map[string]int, len(ch))
		for k, n := range ch {
			out[k] = n
		}
		m.charges[p] = out
	}
	m.chat = append([]protocol.ChatMessage(nil), s.Chat...)
	m.nfts = append([]protocol.NFTMint(nil), s.NFTs...)
	return nil
}
