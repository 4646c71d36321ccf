package reflector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"pixelpandemonium.ai/internal/protocol"
)

const (
	pingEvery   = 25 * time.Second
	readTimeout = 60 * time.Second
)

// Handler serves the replica websocket: HELLO, WELCOME, then PUBLISH upstream
// and MSG/TICK downstream.
func (r *Reflector) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		conn, err := r.upgrader.Upgrade(rw, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		p := r.handshake(req.Context(), conn)
		if p == nil {
			return
		}

		ctx, cancel := context.WithCancel(req.Context())
		defer cancel()
		errs := make(chan []byte, 16)

		// Writer goroutine.
		go func() {
			defer conn.Close()
			ping := time.NewTicker(pingEvery)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
						cancel()
						return
					}
				case b := <-errs:
					if err := writeRaw(conn, b); err != nil {
						cancel()
						return
					}
				case b, ok := <-p.out:
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "replica dropped"), time.Now().Add(time.Second))
						cancel()
						return
					}
					if err := writeRaw(conn, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		limiter := rate.NewLimiter(rate.Limit(r.cfg.Tuning.Reflector.IntentsPerSecond), r.cfg.Tuning.Reflector.IntentBurst)

		// Reader loop. Views that only watch stay alive on pongs.
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			pub, rej := r.admit(msg, limiter)
			if rej != nil {
				rejectedTotal.WithLabelValues(rej.Code).Inc()
				if b, err := json.Marshal(rej); err == nil {
					select {
					case errs <- b:
					default:
					}
				}
				continue
			}
			select {
			case r.publish <- publishReq{scope: pub.Scope, name: pub.Name, body: pub.Payload}:
			case <-ctx.Done():
			case <-r.done:
				cancel()
			}
			if ctx.Err() != nil {
				break
			}
		}

		// Cleanup.
		cancel()
		r.requestLeave(p.id)
	}
}

// admit decodes and validates one upstream message. Only PUBLISH is accepted
// after the handshake.
func (r *Reflector) admit(msg []byte, limiter *rate.Limiter) (protocol.PublishMsg, *protocol.ErrorMsg) {
	var pub protocol.PublishMsg
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypePublish {
		e := protocol.NewError(protocol.ErrProtoBadRequest, "expected PUBLISH")
		return pub, &e
	}
	if err := json.Unmarshal(msg, &pub); err != nil {
		e := protocol.NewError(protocol.ErrProtoBadRequest, err.Error())
		return pub, &e
	}
	reject := func(code, text string) (protocol.PublishMsg, *protocol.ErrorMsg) {
		e := protocol.NewError(code, text)
		e.Scope, e.Name = pub.Scope, pub.Name
		return pub, &e
	}
	if !limiter.Allow() {
		return reject(protocol.ErrRateLimit, "too many intents")
	}
	if err := r.validator.Validate(pub.Scope, pub.Name, pub.Payload); err != nil {
		if errors.Is(err, protocol.ErrUnknownRoute) {
			return reject(protocol.ErrUnknownKind, err.Error())
		}
		return reject(protocol.ErrBadRequest, err.Error())
	}
	if err := r.checkKinds(pub); err != nil {
		return reject(protocol.ErrUnknownKind, err.Error())
	}
	if len(pub.Payload) == 0 {
		pub.Payload = json.RawMessage("{}")
	}
	return pub, nil
}

// checkKinds rejects event and power-up kinds the catalogs do not define, so
// they never reach a replica.
func (r *Reflector) checkKinds(pub protocol.PublishMsg) error {
	var kinds struct {
		Type        string `json:"type"`
		PowerUpType string `json:"powerUpType"`
	}
	if len(pub.Payload) > 0 {
		if err := json.Unmarshal(pub.Payload, &kinds); err != nil {
			return err
		}
	}
	switch pub.Name {
	case protocol.IntentTriggerEvent:
		if t := strings.TrimSpace(kinds.Type); t != "" {
			if _, ok := r.cfg.Catalogs.Events.ByID[t]; !ok {
				return fmt.Errorf("unknown event kind %q", t)
			}
		}
	case protocol.IntentBuyPowerUp, protocol.IntentActivatePowerUp:
		if _, ok := r.cfg.Catalogs.PowerUps.ByID[strings.TrimSpace(kinds.PowerUpType)]; !ok {
			return fmt.Errorf("unknown power-up kind %q", kinds.PowerUpType)
		}
	}
	return nil
}

func (r *Reflector) handshake(ctx context.Context, conn *websocket.Conn) *peer {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		r.refuse(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		r.refuse(conn, protocol.ErrProtoBadRequest, err.Error())
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		r.refuse(conn, protocol.ErrProtoVersion, "bad protocol_version")
		return nil
	}
	if hello.CatalogsDigest != r.cfg.Catalogs.Digest() {
		r.refuse(conn, protocol.ErrCatalogMismatch, "catalogs digest mismatch")
		return nil
	}
	if hello.Name == "" {
		hello.Name = "replica"
	}

	resp := make(chan joinResp, 1)
	select {
	case r.join <- joinReq{name: hello.Name, resp: resp}:
	case <-ctx.Done():
		return nil
	case <-r.done:
		r.refuse(conn, protocol.ErrInternal, "session closed")
		return nil
	}
	jr := <-resp
	if jr.err != nil {
		r.log.Printf("join %s: %v", hello.Name, jr.err)
		r.refuse(conn, protocol.ErrInternal, "snapshot failed")
		return nil
	}
	if err := writeJSON(conn, jr.welcome); err != nil {
		r.requestLeave(jr.peer.id)
		return nil
	}
	return jr.peer
}

func (r *Reflector) refuse(conn *websocket.Conn, code, text string) {
	rejectedTotal.WithLabelValues(code).Inc()
	_ = writeJSON(conn, protocol.NewError(code, text))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, text), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeRaw(conn, b)
}

func writeRaw(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
