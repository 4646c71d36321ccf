package canvas

import (
	"regexp"
	"strings"

	"pixelpandemonium.ai/internal/protocol"
	"pixelpandemonium.ai/internal/sim/catalogs"
)

var colorRE = regexp.MustCompile(`^#[0-9A-F]{6}$`)

// NormalizeColor upper-cases c and reports whether it is a #RRGGBB colour.
func NormalizeColor(c string) (string, bool) {
	c = strings.ToUpper(strings.TrimSpace(c))
	return c, colorRE.MatchString(c)
}

// Grid is the row-major 32x32 canvas. It is only written through Set.
type Grid struct {
	cells [Cells]string
}

func (g *Grid) Fill(color string) {
	for i := range g.cells {
		g.cells[i] = color
	}
}

func (g *Grid) Set(i int, color string) bool {
	if i < 0 || i >= Cells {
		return false
	}
	g.cells[i] = color
	return true
}

func (g *Grid) At(i int) string {
	if i < 0 || i >= Cells {
		return ""
	}
	return g.cells[i]
}

func (g *Grid) Colors() []string {
	out := make([]string, Cells)
	copy(out, g.cells[:])
	return out
}

// block returns the in-grid indices of the w x h block whose top-left corner
// is (x0, y0).
func block(x0, y0, w, h int) []int {
	var out []int
	for y := y0; y < y0+h; y++ {
		if y < 0 || y >= Height {
			continue
		}
		for x := x0; x < x0+w; x++ {
			if x < 0 || x >= Width {
				continue
			}
			out = append(out, y*Width+x)
		}
	}
	return out
}

// PlacePixel paints one placement and applies chaos. Out-of-range indices and
// invalid colours are ignored without a broadcast.
func (m *Model) PlacePixel(now int64, in protocol.SetPixel) error {
	if in.Index < 0 || in.Index >= Cells {
		return nil
	}
	color, ok := NormalizeColor(in.Color)
	if !ok {
		return nil
	}
	player := NormalizePlayer(in.Player)

	cells := []int{in.Index}
	charged := false
	if player != "" {
		if kind := m.chargedKind(player, catalogs.PowerRainbowBrush); kind != "" {
			color = m.rng.Pick(m.cfg.RainbowPalette)
			m.useCharge(player, kind)
			charged = true
		}
		if kind := m.chargedKind(player, catalogs.PowerBomb); kind != "" {
			x, y := in.Index%Width, in.Index/Width
			cells = block(x-1, y-1, 3, 3)
			m.useCharge(player, kind)
			charged = true
		} else if kind := m.chargedKind(player, catalogs.PowerMultiplier); kind != "" {
			x, y := in.Index%Width, in.Index/Width
			cells = block(x, y, 2, 2)
			m.useCharge(player, kind)
			charged = true
		}
	}

	for _, i := range cells {
		m.grid.Set(i, color)
	}
	if player != "" {
		if exp, ok := m.immunityUntil(player, now); ok {
			for _, i := range cells {
				m.protect(i, exp)
			}
		}
		inc := int64(1)
		if m.effect() == catalogs.EffectDouble {
			inc = 2
		}
		st := m.stats[player]
		if st == nil {
			st = &PlayerStat{}
			m.stats[player] = st
		}
		st.PixelsPlaced += inc
		m.totalPixels += inc
	}

	m.applyChaos(now)

	m.publishPixels()
	m.publishStats()
	if charged {
		m.publishPowerUps(player)
	}
	return nil
}

func (m *Model) publishPixels() {
	m.pub.Publish(protocol.ScopeCanvas, protocol.BroadcastPixelsUpdated, m.grid.Colors())
}
