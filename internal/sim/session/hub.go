package session

import "sync"

// Any matches every scope or every name in Hub.Subscribe.
const Any = "*"

type subscription struct {
	id          uint64
	scope, name string
	fn          func(scope, name string, payload any)
}

// Hub fans broadcasts out to subscribers synchronously, in subscription
// order, on the goroutine that delivers the message.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   []*subscription
}

func NewHub() *Hub { return &Hub{} }

func (h *Hub) Subscribe(scope, name string, fn func(scope, name string, payload any)) (cancel func()) {
	h.mu.Lock()
	h.nextID++
	s := &subscription{id: h.nextID, scope: scope, name: name, fn: fn}
	h.subs = append(h.subs, s)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, cur := range h.subs {
				if cur.id == s.id {
					h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (h *Hub) Publish(scope, name string, payload any) {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for _, s := range h.subs {
		if (s.scope == Any || s.scope == scope) && (s.name == Any || s.name == name) {
			subs = append(subs, s)
		}
	}
	h.mu.Unlock()
	for _, s := range subs {
		s.fn(scope, name, payload)
	}
}
