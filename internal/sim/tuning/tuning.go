package tuning

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Seed         int64  `yaml:"seed"`
	DefaultColor string `yaml:"default_color"`

	ChatHistory int `yaml:"chat_history"`
	NFTHistory  int `yaml:"nft_history"`

	ChaosPalette   []string `yaml:"chaos_palette"`
	RainbowPalette []string `yaml:"rainbow_palette"`

	EventTickMS     int64 `yaml:"event_tick_ms"`
	EventDelayMinMS int64 `yaml:"event_delay_min_ms"`
	EventDelayMaxMS int64 `yaml:"event_delay_max_ms"`
	RainIntervalMS  int64 `yaml:"rain_interval_ms"`
	RainPermille    int   `yaml:"rain_permille"`

	ShieldPixels    int  `yaml:"shield_pixels"`
	EnforceCooldown bool `yaml:"enforce_cooldown"`
	LeaderboardSize int  `yaml:"leaderboard_size"`

	Reflector Reflector `yaml:"reflector"`
}

// Reflector tunes the ordering transport. None of these values reach the
// model, so they may differ between deployments without breaking replicas.
type Reflector struct {
	HeartbeatMS      int     `yaml:"heartbeat_ms"`
	IntentsPerSecond float64 `yaml:"intents_per_second"`
	IntentBurst      int     `yaml:"intent_burst"`
	ClientQueue      int     `yaml:"client_queue"`
	SnapshotEverySeq uint64  `yaml:"snapshot_every_seq"`
}

var colorRE = regexp.MustCompile(`^#[0-9A-F]{6}$`)

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Seed:            1337,
		DefaultColor:    "#FFFFFF",
		ChatHistory:     50,
		NFTHistory:      50,
		ChaosPalette: []string{
			"#FF0000", "#00FF00", "#0000FF", "#FFFF00", "#FF00FF", "#00FFFF", "#FFA500", "#800080",
		},
		RainbowPalette: []string{
			"#FF0000", "#FF7F00", "#FFFF00", "#00FF00", "#0000FF", "#4B0082", "#9400D3",
		},
		EventTickMS:     1000,
		EventDelayMinMS: 30000,
		EventDelayMaxMS: 60000,
		RainIntervalMS:  2000,
		RainPermille:    300,
		ShieldPixels:    5,
		LeaderboardSize: 5,
		Reflector: Reflector{
			HeartbeatMS:      100,
			IntentsPerSecond: 20,
			IntentBurst:      40,
			ClientQueue:      1024,
			SnapshotEverySeq: 10000,
		},
	}
}

// Load reads a tuning file on top of Defaults. An empty path yields defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	d := Defaults()
	t.DefaultColor = strings.ToUpper(strings.TrimSpace(t.DefaultColor))
	if t.DefaultColor == "" {
		t.DefaultColor = d.DefaultColor
	}
	t.ChaosPalette = normalizePalette(t.ChaosPalette)
	t.RainbowPalette = normalizePalette(t.RainbowPalette)
	if t.ChatHistory <= 0 {
		t.ChatHistory = d.ChatHistory
	}
	if t.NFTHistory <= 0 {
		t.NFTHistory = d.NFTHistory
	}
	if t.EventTickMS <= 0 {
		t.EventTickMS = d.EventTickMS
	}
	if t.RainIntervalMS <= 0 {
		t.RainIntervalMS = d.RainIntervalMS
	}
	if t.LeaderboardSize <= 0 {
		t.LeaderboardSize = d.LeaderboardSize
	}
	if t.Reflector.HeartbeatMS <= 0 {
		t.Reflector.HeartbeatMS = d.Reflector.HeartbeatMS
	}
	if t.Reflector.IntentsPerSecond <= 0 {
		t.Reflector.IntentsPerSecond = d.Reflector.IntentsPerSecond
	}
	if t.Reflector.IntentBurst <= 0 {
		t.Reflector.IntentBurst = d.Reflector.IntentBurst
	}
	if t.Reflector.ClientQueue <= 0 {
		t.Reflector.ClientQueue = d.Reflector.ClientQueue
	}
}

// normalizePalette returns an upper-cased copy; the caller's slice may be
// shared with other holders of the same Tuning.
func normalizePalette(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, c := range in {
		out[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	return out
}

func (t Tuning) Validate() error {
	if !colorRE.MatchString(t.DefaultColor) {
		return fmt.Errorf("default_color %q is not #RRGGBB", t.DefaultColor)
	}
	if len(t.ChaosPalette) == 0 {
		return fmt.Errorf("chaos_palette is empty")
	}
	if len(t.RainbowPalette) == 0 {
		return fmt.Errorf("rainbow_palette is empty")
	}
	for _, c := range append(append([]string{}, t.ChaosPalette...), t.RainbowPalette...) {
		if !colorRE.MatchString(c) {
			return fmt.Errorf("palette colour %q is not #RRGGBB", c)
		}
	}
	if t.EventDelayMinMS < 0 || t.EventDelayMaxMS < t.EventDelayMinMS {
		return fmt.Errorf("event delay range [%d,%d] is invalid", t.EventDelayMinMS, t.EventDelayMaxMS)
	}
	if t.RainPermille < 0 || t.RainPermille > 1000 {
		return fmt.Errorf("rain_permille %d out of [0,1000]", t.RainPermille)
	}
	if t.ShieldPixels < 0 || t.ShieldPixels > 1024 {
		return fmt.Errorf("shield_pixels %d out of [0,1024]", t.ShieldPixels)
	}
	return nil
}
