package canvas

import (
	"encoding/json"
	"fmt"

	"pixelpandemonium.ai/internal/protocol"
)

// Timer kinds. These are internal and never accepted from the wire.
const (
	TimerEventTick     = "eventTick"
	TimerRainTick      = "rainTick"
	TimerAutoTrigger   = "autoTrigger"
	TimerPowerUpExpire = "powerUpExpire"
)

// Timer is a scheduled callback as plain data. Handlers check the fields
// against current state when it fires, so a timer that no longer applies is
// a no-op.
type Timer struct {
	Kind    string
	Serial  uint64
	Player  string
	PowerUp string
	Expiry  int64
}

type handler func(m *Model, now int64, payload []byte) error

func route[T any](fn func(*Model, int64, T) error) handler {
	return func(m *Model, now int64, payload []byte) error {
		var in T
		if err := json.Unmarshal(payload, &in); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return fn(m, now, in)
	}
}

var routes = map[protocol.Route]handler{
	{Scope: protocol.ScopeCanvas, Name: protocol.IntentSetPixel}:         route((*Model).PlacePixel),
	{Scope: protocol.ScopeChat, Name: protocol.IntentSendMessage}:        route((*Model).SendMessage),
	{Scope: protocol.ScopeEvent, Name: protocol.IntentTriggerEvent}:      route((*Model).TriggerEvent),
	{Scope: protocol.ScopePowerUp, Name: protocol.IntentBuyPowerUp}:      route((*Model).BuyPowerUp),
	{Scope: protocol.ScopePowerUp, Name: protocol.IntentActivatePowerUp}: route((*Model).ActivatePowerUp),
	{Scope: protocol.ScopeNFT, Name: protocol.IntentMintNFT}:             route((*Model).RecordMint),
}

// Dispatch routes one ordered intent to its handler.
func (m *Model) Dispatch(now int64, scope, name string, payload []byte) error {
	h, ok := routes[protocol.Route{Scope: scope, Name: name}]
	if !ok {
		return fmt.Errorf("%w: no route for %s.%s", ErrConsistency, scope, name)
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	return h(m, now, payload)
}

// FireTimer runs a due timer at its scheduled time.
func (m *Model) FireTimer(now int64, t Timer) error {
	switch t.Kind {
	case TimerEventTick:
		m.onEventTick(now, t)
	case TimerRainTick:
		m.onRainTick(now, t)
	case TimerAutoTrigger:
		m.onAutoTrigger(now, t)
	case TimerPowerUpExpire:
		m.onPowerUpExpire(t)
	default:
		return fmt.Errorf("%w: unknown timer kind %q", ErrConsistency, t.Kind)
	}
	return nil
}
