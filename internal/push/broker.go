package push

import (
	"log"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ReadyText is sent to every client right after it connects.
const ReadyText = "Ready to run"

type subscriber struct {
	ch chan Frame
}

// Broker fans out frames to websocket clients.
type Broker struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewBroker creates a new broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a subscriber for all frames.
func (b *Broker) Subscribe() *Subscription {
	sub := &subscriber{ch: make(chan Frame, 64)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return &Subscription{broker: b, sub: sub}
}

// Subscribers returns the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish broadcasts a frame to subscribers. Slow subscribers miss frames.
func (b *Broker) Publish(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- f:
		default:
		}
	}
}

// Progress publishes a progress frame.
func (b *Broker) Progress(d ProgressData) {
	f, err := NewFrame(EventProgress, d)
	if err != nil {
		log.Printf("push: encode progress: %v", err)
		return
	}
	b.Publish(f)
}

// Status publishes a status frame.
func (b *Broker) Status(d StatusData) {
	f, err := NewFrame(EventStatus, d)
	if err != nil {
		log.Printf("push: encode status: %v", err)
		return
	}
	b.Publish(f)
}

// ServeWS upgrades the connection, greets the client and streams frames
// as JSON until either side goes away.
func (b *Broker) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "closing")

	sub := b.Subscribe()
	defer sub.Close()

	// Clients never send; CloseRead handles their close frame and cancels ctx.
	ctx := conn.CloseRead(r.Context())

	greeting, err := NewFrame(EventAfterConnect, Greeting{Data: ReadyText})
	if err != nil {
		return
	}
	if err := wsjson.Write(ctx, conn, greeting); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-sub.sub.ch:
			if err := wsjson.Write(ctx, conn, f); err != nil {
				return
			}
		}
	}
}

// Subscription represents an active broker subscription.
type Subscription struct {
	broker *Broker
	sub    *subscriber
}

// Chan exposes the frame channel.
func (s *Subscription) Chan() <-chan Frame {
	return s.sub.ch
}

// Close removes the subscription.
func (s *Subscription) Close() {
	if s == nil || s.broker == nil || s.sub == nil {
		return
	}
	s.broker.mu.Lock()
	delete(s.broker.subs, s.sub)
	s.broker.mu.Unlock()
}
