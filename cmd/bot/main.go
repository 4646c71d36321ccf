package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pixelpandemonium.ai/internal/protocol"
	"pixelpandemonium.ai/internal/sim/canvas"
	"pixelpandemonium.ai/internal/sim/catalogs"
	"pixelpandemonium.ai/internal/sim/session"
	"pixelpandemonium.ai/internal/transport/client"
)

func main() {
	var (
		url          = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name         = flag.String("name", "bot", "display name")
		player       = flag.String("player", "", "player address (default: name)")
		catalogsPath = flag.String("catalogs", "", "path to catalogs.yaml (must match the server)")
		every        = flag.Duration("every", 500*time.Millisecond, "time between actions")
		verbose      = flag.Bool("v", false, "log every broadcast")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	if *player == "" {
		*player = *name
	}

	cats, err := catalogs.Load(*catalogsPath)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, *url, *name, cats, logger)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer c.Close()
	logger.Printf("WELCOME session=%s replica=%s", c.SessionID(), c.ReplicaID())

	c.Subscribe(session.Any, session.Any, func(scope, name string, payload any) {
		switch name {
		case protocol.BroadcastEventStart, protocol.BroadcastEventEnd, protocol.BroadcastPowerUpActivated, protocol.BroadcastNFTMinted:
			logger.Printf("%s.%s %s", scope, name, brief(payload))
		default:
			if *verbose {
				logger.Printf("%s.%s %s", scope, name, brief(payload))
			}
		}
	})

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	b := &bot{c: c, log: logger, player: *player, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-runErr:
			if err != nil && ctx.Err() == nil {
				logger.Printf("stream ended: %v", err)
			}
			return
		case em := <-c.Errors():
			logger.Printf("rejected %s: %s", em.Code, em.Message)
		case <-ticker.C:
			if err := b.step(); err != nil {
				logger.Printf("publish: %v", err)
				return
			}
		}
	}
}

type bot struct {
	c      *client.Client
	log    *log.Logger
	player string
	rnd    *rand.Rand
	n      int
}

// step publishes one intent. Decisions read the local replica, which is the
// same state every other view sees at this seq.
func (b *bot) step() error {
	b.n++
	if b.n%20 == 0 {
		return b.c.Publish(protocol.ScopeChat, protocol.IntentSendMessage, protocol.ChatMessage{
			ID:        fmt.Sprintf("%s-%d", b.player, b.n),
			Text:      fmt.Sprintf("%d pixels and counting", b.placed()),
			Sender:    b.player,
			Timestamp: time.Now().UnixMilli(),
		})
	}
	if b.n%7 == 0 {
		if scope, name, payload, ok := b.powerUpMove(); ok {
			return b.c.Publish(scope, name, payload)
		}
	}
	return b.c.Publish(protocol.ScopeCanvas, protocol.IntentSetPixel, protocol.SetPixel{
		Index:  b.rnd.Intn(canvas.Cells),
		Color:  fmt.Sprintf("#%06X", b.rnd.Intn(1<<24)),
		Player: b.player,
	})
}

func (b *bot) placed() int64 {
	var n int64
	b.c.View(func(r *session.Replica) { n = r.Model().PixelsPlaced(b.player) })
	return n
}

// powerUpMove activates an owned power-up that is off cooldown, or buys the
// first affordable one.
func (b *bot) powerUpMove() (scope, name string, payload any, ok bool) {
	b.c.View(func(r *session.Replica) {
		m := r.Model()
		cats := m.Catalogs()
		for _, kind := range cats.PowerUps.Order {
			if m.Owned(b.player, kind).Quantity > 0 && m.CooldownRemaining(b.player, kind, r.Now()) == 0 {
				scope, name, ok = protocol.ScopePowerUp, protocol.IntentActivatePowerUp, true
				payload = protocol.ActivatePowerUp{PowerUpType: kind, PlayerAddress: b.player}
				return
			}
		}
		have := m.PixelsPlaced(b.player)
		for _, kind := range cats.PowerUps.Order {
			def := cats.PowerUps.ByID[kind]
			if def.Cost <= have && m.Owned(b.player, kind).Quantity == 0 {
				scope, name, ok = protocol.ScopePowerUp, protocol.IntentBuyPowerUp, true
				payload = protocol.BuyPowerUp{PowerUpType: kind, PlayerAddress: b.player, Cost: def.Cost}
				return
			}
		}
	})
	return
}

func brief(payload any) string {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	if len(b) > 160 {
		return string(b[:160]) + "..."
	}
	return string(b)
}
