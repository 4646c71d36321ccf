package canvas

import "pixelpandemonium.ai/internal/sim/catalogs"

func (m *Model) effect() string {
	if m.event == nil {
		return catalogs.EffectNone
	}
	return m.event.Effect
}

func (m *Model) chaosMultiplier() int {
	if m.event != nil && m.event.Multiplier > 0 {
		return m.event.Multiplier
	}
	return 1
}

// applyChaos recolours up to chaosMultiplier random cells. A draw that lands
// on a protected cell is spent, not retried.
func (m *Model) applyChaos(now int64) {
	if m.effect() == catalogs.EffectFreeze {
		return
	}
	palette := m.cfg.ChaosPalette
	if m.effect() == catalogs.EffectRainbow {
		palette = m.cfg.RainbowPalette
	}
	for n := m.chaosMultiplier(); n > 0; n-- {
		idx := m.rng.Intn(Cells)
		if m.Protected(idx, now) {
			continue
		}
		m.grid.Set(idx, m.rng.Pick(palette))
	}
}

// protect extends the protection of cell i to exp. It never shortens it.
func (m *Model) protect(i int, exp int64) {
	if cur, ok := m.protected[i]; ok && cur >= exp {
		return
	}
	m.protected[i] = exp
}
