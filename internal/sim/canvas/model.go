// Package canvas is the replicated pixel canvas model. It is a pure state
// machine: every handler takes the virtual time of the message being
// delivered, draws randomness only from the replicated RNG state, and talks to
// the outside world through a Publisher and a Scheduler.
package canvas

import (
	"errors"
	"fmt"
	"strings"

	"pixelpandemonium.ai/internal/protocol"
	"pixelpandemonium.ai/internal/sim/catalogs"
	"pixelpandemonium.ai/internal/sim/rng"
	"pixelpandemonium.ai/internal/sim/tuning"
)

const (
	Width  = 32
	Height = 32
	Cells  = Width * Height
)

var (
	// ErrConsistency marks a message no correct replica could have been
	// sent: an unknown route, event kind, power-up kind or timer kind.
	ErrConsistency = errors.New("consistency fault")
	// ErrMalformed marks a payload that failed to decode. It is handled as a
	// rejected precondition.
	ErrMalformed = errors.New("malformed payload")
)

// Publisher receives broadcasts. Delivery is fire-and-forget.
type Publisher interface {
	Publish(scope, name string, payload any)
}

// Scheduler queues a timer to fire at virtual time at.
type Scheduler interface {
	ScheduleAt(at int64, t Timer)
}

type Config struct {
	Tuning   tuning.Tuning
	Catalogs *catalogs.Catalogs
}

type PlayerStat struct {
	PixelsPlaced int64
}

type OwnedPowerUp struct {
	Quantity int
	LastUsed int64
}

type ActiveEvent struct {
	Kind        string
	Name        string
	Description string
	Color       string
	DurationMS  int64
	RemainingMS int64
	Multiplier  int
	Effect      string
	Serial      uint64
	StartedAt   int64
}

type Model struct {
	cfg   tuning.Tuning
	cats  *catalogs.Catalogs
	pub   Publisher
	sched Scheduler

	rng rng.Source

	grid        Grid
	stats       map[string]*PlayerStat
	totalPixels int64

	event       *ActiveEvent
	eventSerial uint64

	protected map[int]int64
	inventory map[string]map[string]*OwnedPowerUp
	active    map[string]int64
	charges   map[string]map[string]int

	chat []protocol.ChatMessage
	nfts []protocol.NFTMint
}

func New(cfg Config, pub Publisher, sched Scheduler) (*Model, error) {
	if pub == nil || sched == nil {
		return nil, fmt.Errorf("canvas: publisher and scheduler are required")
	}
	t := cfg.Tuning
	t.Normalize()
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("canvas: tuning: %w", err)
	}
	cats := cfg.Catalogs
	if cats == nil {
		cats = catalogs.Default()
	}
	m := &Model{
		cfg:       t,
		cats:      cats,
		pub:       pub,
		sched:     sched,
		stats:     map[string]*PlayerStat{},
		protected: map[int]int64{},
		inventory: map[string]map[string]*OwnedPowerUp{},
		active:    map[string]int64{},
		charges:   map[string]map[string]int{},
	}
	m.rng.SetState(rng.SeedFrom(t.Seed))
	m.grid.Fill(t.DefaultColor)
	return m, nil
}

// Init arms the first automatic event. It is called once per session, never
// on a model restored from a snapshot.
func (m *Model) Init(now int64) {
	m.armAutoTrigger(now)
}

func (m *Model) Tuning() tuning.Tuning        { return m.cfg }
func (m *Model) Catalogs() *catalogs.Catalogs { return m.cats }
func (m *Model) Pixels() []string             { return m.grid.Colors() }
func (m *Model) Pixel(i int) string           { return m.grid.At(i) }
func (m *Model) TotalPixels() int64           { return m.totalPixels }
func (m *Model) Chat() []protocol.ChatMessage { return append([]protocol.ChatMessage(nil), m.chat...) }
func (m *Model) NFTs() []protocol.NFTMint     { return append([]protocol.NFTMint(nil), m.nfts...) }
func (m *Model) RNGState() uint64             { return m.rng.State() }

func (m *Model) PixelsPlaced(player string) int64 {
	if st := m.stats[NormalizePlayer(player)]; st != nil {
		return st.PixelsPlaced
	}
	return 0
}

// ActiveEvent returns a copy of the running event, if any.
func (m *Model) ActiveEvent() (ActiveEvent, bool) {
	if m.event == nil {
		return ActiveEvent{}, false
	}
	return *m.event, true
}

// Protected reports whether chaos must skip index i at time now.
func (m *Model) Protected(i int, now int64) bool {
	exp, ok := m.protected[i]
	return ok && now < exp
}

func (m *Model) Owned(player, kind string) OwnedPowerUp {
	if o := m.inventory[NormalizePlayer(player)][kind]; o != nil {
		return *o
	}
	return OwnedPowerUp{}
}

func (m *Model) ActiveUntil(player, kind string) (int64, bool) {
	exp, ok := m.active[activeKey(NormalizePlayer(player), kind)]
	return exp, ok
}

func (m *Model) Charges(player, kind string) int {
	return m.charges[NormalizePlayer(player)][kind]
}

// NormalizePlayer is the canonical form of a player address.
func NormalizePlayer(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func activeKey(player, kind string) string {
	return player + "_" + kind
}
