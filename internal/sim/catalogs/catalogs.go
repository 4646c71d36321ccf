// Package catalogs holds the static world-event and power-up definitions.
// Catalogs are configuration, not state: every replica must load identical
// catalogs, which the transport checks by digest at join time.
package catalogs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Event effects.
const (
	EffectNone    = ""
	EffectRainbow = "rainbow"
	EffectRain    = "rain"
	EffectDouble  = "double"
	EffectFreeze  = "freeze"
)

// Power-up effects.
const (
	PowerShield       = "shield"
	PowerImmunity     = "immunity"
	PowerBomb         = "bomb"
	PowerRainbowBrush = "rainbow_brush"
	PowerMultiplier   = "multiplier"
)

type Catalogs struct {
	Events   EventCatalog
	PowerUps PowerUpCatalog
}

type EventCatalog struct {
	Order  []string
	ByID   map[string]EventDef
	Digest string
}

type EventDef struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	DurationMS  int64  `yaml:"duration_ms" json:"duration_ms"`
	Color       string `yaml:"color" json:"color"`
	Multiplier  int    `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
	Effect      string `yaml:"effect,omitempty" json:"effect,omitempty"`
}

type PowerUpCatalog struct {
	Order  []string
	ByID   map[string]PowerUpDef
	Digest string
}

type PowerUpDef struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Effect      string `yaml:"effect" json:"effect"`
	DurationMS  int64  `yaml:"duration_ms,omitempty" json:"duration_ms,omitempty"`
	Uses        int    `yaml:"uses,omitempty" json:"uses,omitempty"`
	Cost        int64  `yaml:"cost" json:"cost"`
	CooldownMS  int64  `yaml:"cooldown_ms,omitempty" json:"cooldown_ms,omitempty"`
	Color       string `yaml:"color" json:"color"`
}

type file struct {
	Events   []EventDef   `yaml:"events"`
	PowerUps []PowerUpDef `yaml:"power_ups"`
}

// Default returns the built-in catalogs.
func Default() *Catalogs {
	c, err := Parse(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("catalogs: embedded defaults: %v", err))
	}
	return c
}

// Load reads catalogs.yaml; an empty path yields the built-in catalogs.
func Load(path string) (*Catalogs, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("catalogs.yaml: %w", err)
	}
	return c, nil
}

func Parse(raw []byte) (*Catalogs, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	c := &Catalogs{
		Events:   EventCatalog{ByID: map[string]EventDef{}},
		PowerUps: PowerUpCatalog{ByID: map[string]PowerUpDef{}},
	}
	for _, ev := range f.Events {
		ev.ID = strings.TrimSpace(ev.ID)
		if err := validateEvent(ev); err != nil {
			return nil, err
		}
		if _, dup := c.Events.ByID[ev.ID]; dup {
			return nil, fmt.Errorf("duplicate event id %s", ev.ID)
		}
		c.Events.ByID[ev.ID] = ev
		c.Events.Order = append(c.Events.Order, ev.ID)
	}
	for _, p := range f.PowerUps {
		p.ID = strings.TrimSpace(p.ID)
		if err := validatePowerUp(p); err != nil {
			return nil, err
		}
		if _, dup := c.PowerUps.ByID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate power-up id %s", p.ID)
		}
		c.PowerUps.ByID[p.ID] = p
		c.PowerUps.Order = append(c.PowerUps.Order, p.ID)
	}
	if len(c.Events.Order) == 0 {
		return nil, fmt.Errorf("no events defined")
	}
	c.Events.Digest = digestOf(f.Events)
	c.PowerUps.Digest = digestOf(f.PowerUps)
	return c, nil
}

func validateEvent(ev EventDef) error {
	if ev.ID == "" {
		return fmt.Errorf("event with empty id")
	}
	if ev.DurationMS <= 0 {
		return fmt.Errorf("event %s: duration_ms must be > 0", ev.ID)
	}
	if ev.Multiplier < 0 {
		return fmt.Errorf("event %s: negative multiplier", ev.ID)
	}
	switch ev.Effect {
	case EffectNone, EffectRainbow, EffectRain, EffectDouble, EffectFreeze:
		return nil
	default:
		return fmt.Errorf("event %s: unknown effect %q", ev.ID, ev.Effect)
	}
}

func validatePowerUp(p PowerUpDef) error {
	if p.ID == "" {
		return fmt.Errorf("power-up with empty id")
	}
	if p.Cost < 0 || p.DurationMS < 0 || p.CooldownMS < 0 || p.Uses < 0 {
		return fmt.Errorf("power-up %s: negative cost/duration/cooldown/uses", p.ID)
	}
	switch p.Effect {
	case PowerShield, PowerImmunity:
		if p.DurationMS == 0 {
			return fmt.Errorf("power-up %s: effect %s needs duration_ms", p.ID, p.Effect)
		}
	case PowerBomb, PowerRainbowBrush, PowerMultiplier:
		if p.Uses == 0 {
			return fmt.Errorf("power-up %s: effect %s needs uses", p.ID, p.Effect)
		}
	default:
		return fmt.Errorf("power-up %s: unknown effect %q", p.ID, p.Effect)
	}
	return nil
}

// Digest identifies the combined catalogs for join-time compatibility checks.
func (c *Catalogs) Digest() string {
	return sha256Hex([]byte(c.Events.Digest + ":" + c.PowerUps.Digest))
}

func digestOf(v any) string {
	b, _ := json.Marshal(v)
	return sha256Hex(b)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
