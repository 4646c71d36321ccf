package canvas

import (
	"fmt"
	"sort"
	"strings"

	"pixelpandemonium.ai/internal/protocol"
	"pixelpandemonium.ai/internal/sim/catalogs"
)

func (m *Model) powerUpDef(kind string) (catalogs.PowerUpDef, error) {
	def, ok := m.cats.PowerUps.ByID[strings.TrimSpace(kind)]
	if !ok {
		return def, fmt.Errorf("%w: unknown power-up kind %q", ErrConsistency, kind)
	}
	return def, nil
}

// BuyPowerUp debits the catalog cost from the buyer's pixel counter.
func (m *Model) BuyPowerUp(now int64, in protocol.BuyPowerUp) error {
	def, err := m.powerUpDef(in.PowerUpType)
	if err != nil {
		return err
	}
	player := NormalizePlayer(in.PlayerAddress)
	if player == "" {
		return nil
	}
	st := m.stats[player]
	if st == nil || st.PixelsPlaced < def.Cost {
		return nil
	}
	if m.cfg.EnforceCooldown && m.CooldownRemaining(player, def.ID, now) > 0 {
		return nil
	}

	st.PixelsPlaced -= def.Cost
	inv := m.inventory[player]
	if inv == nil {
		inv = map[string]*OwnedPowerUp{}
		m.inventory[player] = inv
	}
	o := inv[def.ID]
	if o == nil {
		o = &OwnedPowerUp{}
		inv[def.ID] = o
	}
	o.Quantity++
	o.LastUsed = now

	m.publishPowerUps(player)
	m.publishStats()
	return nil
}

// CooldownRemaining is how long until the player may buy kind again. It is
// advisory unless the enforce_cooldown tuning is set.
func (m *Model) CooldownRemaining(player, kind string, now int64) int64 {
	def, ok := m.cats.PowerUps.ByID[kind]
	if !ok || def.CooldownMS == 0 {
		return 0
	}
	o := m.inventory[NormalizePlayer(player)][kind]
	if o == nil {
		return 0
	}
	left := o.LastUsed + def.CooldownMS - now
	if left < 0 {
		return 0
	}
	return left
}

// ActivatePowerUp consumes one owned power-up and applies its effect.
func (m *Model) ActivatePowerUp(now int64, in protocol.ActivatePowerUp) error {
	def, err := m.powerUpDef(in.PowerUpType)
	if err != nil {
		return err
	}
	player := NormalizePlayer(in.PlayerAddress)
	o := m.inventory[player][def.ID]
	if o == nil || o.Quantity <= 0 {
		return nil
	}
	o.Quantity--

	ev := protocol.PowerUpActivated{
		PowerUpType:   def.ID,
		PlayerAddress: player,
		PowerUp:       powerUpDescriptor(def),
	}
	if def.DurationMS > 0 {
		exp := now + def.DurationMS
		m.active[activeKey(player, def.ID)] = exp
		m.sched.ScheduleAt(exp, Timer{Kind: TimerPowerUpExpire, Player: player, PowerUp: def.ID, Expiry: exp})
		ev.ExpiresAt = exp
		if def.Effect == catalogs.PowerShield {
			ev.ProtectedPixels = m.shield(exp)
		}
	}
	if def.Uses > 0 {
		ch := m.charges[player]
		if ch == nil {
			ch = map[string]int{}
			m.charges[player] = ch
		}
		ch[def.ID] += def.Uses
	}

	m.pub.Publish(protocol.ScopePowerUp, protocol.BroadcastPowerUpActivated, ev)
	m.publishPowerUps(player)
	return nil
}

// shield protects ShieldPixels distinct random cells until exp.
func (m *Model) shield(exp int64) []int {
	n := m.cfg.ShieldPixels
	if n > Cells {
		n = Cells
	}
	picked := make(map[int]bool, n)
	out := make([]int, 0, n)
	for len(out) < n {
		idx := m.rng.Intn(Cells)
		if picked[idx] {
			continue
		}
		picked[idx] = true
		out = append(out, idx)
		m.protect(idx, exp)
	}
	return out
}

func (m *Model) onPowerUpExpire(t Timer) {
	key := activeKey(t.Player, t.PowerUp)
	if exp, ok := m.active[key]; !ok || exp != t.Expiry {
		return
	}
	delete(m.active, key)
	m.publishPowerUps(t.Player)
}

// immunityUntil returns the latest running immunity expiry for player.
func (m *Model) immunityUntil(player string, now int64) (int64, bool) {
	var best int64
	for _, id := range m.cats.PowerUps.Order {
		if m.cats.PowerUps.ByID[id].Effect != catalogs.PowerImmunity {
			continue
		}
		if exp, ok := m.active[activeKey(player, id)]; ok && exp > now && exp > best {
			best = exp
		}
	}
	return best, best > 0
}

// chargedKind is the first kind, in catalog order, with the given effect
// that the player holds a charge of.
func (m *Model) chargedKind(player, effect string) string {
	ch := m.charges[player]
	if len(ch) == 0 {
		return ""
	}
	for _, id := range m.cats.PowerUps.Order {
		if m.cats.PowerUps.ByID[id].Effect == effect && ch[id] > 0 {
			return id
		}
	}
	return ""
}

func (m *Model) useCharge(player, kind string) {
	ch := m.charges[player]
	ch[kind]--
	if ch[kind] <= 0 {
		delete(ch, kind)
	}
	if len(ch) == 0 {
		delete(m.charges, player)
	}
}

func (m *Model) publishPowerUps(player string) {
	up := protocol.PowerUpUpdate{
		Player:       player,
		UserPowerUps: map[string]protocol.OwnedPowerUp{},
		Active:       make(map[string]int64, len(m.active)),
	}
	for id, o := range m.inventory[player] {
		up.UserPowerUps[id] = protocol.OwnedPowerUp{Quantity: o.Quantity, LastUsed: o.LastUsed}
	}
	if ch := m.charges[player]; len(ch) > 0 {
		up.Charges = make(map[string]int, len(ch))
		for id, n := range ch {
			up.Charges[id] = n
		}
	}
	for k, exp := range m.active {
		up.Active[k] = exp
	}
	m.pub.Publish(protocol.ScopePowerUp, protocol.BroadcastPowerUpUpdate, up)
}

func powerUpDescriptor(def catalogs.PowerUpDef) protocol.PowerUpDescriptor {
	return protocol.PowerUpDescriptor{
		Name:        def.Name,
		Description: def.Description,
		Duration:    def.DurationMS,
		Uses:        def.Uses,
		Cost:        def.Cost,
		Cooldown:    def.CooldownMS,
		Color:       def.Color,
	}
}

// PowerUpCatalog describes every purchasable kind.
func (m *Model) PowerUpCatalog() map[string]protocol.PowerUpDescriptor {
	out := make(map[string]protocol.PowerUpDescriptor, len(m.cats.PowerUps.Order))
	for _, id := range m.cats.PowerUps.Order {
		out[id] = powerUpDescriptor(m.cats.PowerUps.ByID[id])
	}
	return out
}

func sortedKeys[V any](mp map[string]V) []string {
	keys := make([]string, 0, len(mp))
	for k := range mp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
