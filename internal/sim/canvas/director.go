package canvas

import (
	"fmt"
	"strings"

	"pixelpandemonium.ai/internal/protocol"
	"pixelpandemonium.ai/internal/sim/catalogs"
)

// TriggerEvent starts the named event, or a random one when Type is empty.
// A trigger while an event is running is ignored. The intent's config is
// advisory: kinds are defined by the catalog.
func (m *Model) TriggerEvent(now int64, in protocol.TriggerEvent) error {
	kind := strings.TrimSpace(in.Type)
	if kind != "" {
		if _, ok := m.cats.Events.ByID[kind]; !ok {
			return fmt.Errorf("%w: unknown event kind %q", ErrConsistency, kind)
		}
	}
	if m.event != nil {
		return nil
	}
	if kind == "" {
		kind = m.pickEvent()
	}
	m.startEvent(now, m.cats.Events.ByID[kind])
	return nil
}

func (m *Model) pickEvent() string {
	order := m.cats.Events.Order
	return order[m.rng.Intn(len(order))]
}

func (m *Model) startEvent(now int64, def catalogs.EventDef) {
	m.eventSerial++
	m.event = &ActiveEvent{
		Kind:        def.ID,
		Name:        def.Name,
		Description: def.Description,
		Color:       def.Color,
		DurationMS:  def.DurationMS,
		RemainingMS: def.DurationMS,
		Multiplier:  def.Multiplier,
		Effect:      def.Effect,
		Serial:      m.eventSerial,
		StartedAt:   now,
	}
	m.pub.Publish(protocol.ScopeEvent, protocol.BroadcastEventStart, m.eventDescriptor())

	m.sched.ScheduleAt(now+m.cfg.EventTickMS, Timer{Kind: TimerEventTick, Serial: m.eventSerial})
	if def.Effect == catalogs.EffectRain {
		m.sched.ScheduleAt(now+m.cfg.RainIntervalMS, Timer{Kind: TimerRainTick, Serial: m.eventSerial})
	}
}

func (m *Model) eventDescriptor() protocol.EventDescriptor {
	ev := m.event
	return protocol.EventDescriptor{
		Type:        ev.Kind,
		Name:        ev.Name,
		Description: ev.Description,
		Duration:    ev.DurationMS,
		Color:       ev.Color,
		Multiplier:  ev.Multiplier,
		Effect:      ev.Effect,
		StartedAt:   ev.StartedAt,
	}
}

func (m *Model) onEventTick(now int64, t Timer) {
	if m.event == nil || m.event.Serial != t.Serial {
		return
	}
	m.event.RemainingMS -= m.cfg.EventTickMS
	left := m.event.RemainingMS
	if left < 0 {
		left = 0
	}
	m.pub.Publish(protocol.ScopeEvent, protocol.BroadcastEventUpdate, protocol.EventUpdate{TimeLeft: left})
	if m.event.RemainingMS <= 0 {
		m.endEvent(now)
		return
	}
	m.sched.ScheduleAt(now+m.cfg.EventTickMS, Timer{Kind: TimerEventTick, Serial: t.Serial})
}

func (m *Model) endEvent(now int64) {
	m.event = nil
	m.pub.Publish(protocol.ScopeEvent, protocol.BroadcastEventEnd, protocol.EventEnd{})
	m.armAutoTrigger(now)
}

// armAutoTrigger binds the timer to the current event serial, so a timer
// armed before a manually triggered event goes stale once that event starts.
func (m *Model) armAutoTrigger(now int64) {
	span := m.cfg.EventDelayMaxMS - m.cfg.EventDelayMinMS
	delay := m.cfg.EventDelayMinMS + int64(m.rng.Intn(int(span)+1))
	m.sched.ScheduleAt(now+delay, Timer{Kind: TimerAutoTrigger, Serial: m.eventSerial})
}

func (m *Model) onAutoTrigger(now int64, t Timer) {
	if m.event != nil || t.Serial != m.eventSerial {
		return
	}
	m.startEvent(now, m.cats.Events.ByID[m.pickEvent()])
}

func (m *Model) onRainTick(now int64, t Timer) {
	if m.event == nil || m.event.Serial != t.Serial || m.event.Effect != catalogs.EffectRain {
		return
	}
	for i := 0; i < Width; i++ {
		if m.rng.Permille(m.cfg.RainPermille) {
			m.grid.Set(i, m.rng.Pick(m.cfg.ChaosPalette))
		}
	}
	m.publishPixels()
	m.sched.ScheduleAt(now+m.cfg.RainIntervalMS, Timer{Kind: TimerRainTick, Serial: t.Serial})
}
