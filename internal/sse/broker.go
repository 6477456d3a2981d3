// Package sse streams connection, breaker and note events to HTTP
// clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeConnectionState = "connection.state"
	TypeBreakerState    = "breaker.state"
	TypeNoteCreated     = "note.created"
	TypeNoteUpdated     = "note.updated"
	// TypeStatusChanged carries a throttled status snapshot, or an empty
	// object when no status source is set.
	TypeStatusChanged = "status.changed"
)

// Event is one message to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StateChange is the payload of the *.state events.
type StateChange struct {
	Name string `json:"name,omitempty"`
	From string `json:"from"`
	To   string `json:"to"`
}

type stateReq struct {
	typ    string
	change StateChange
}

// Broker fans events out to subscribers.
//
// A single goroutine owns the client set and the throttle timestamp;
// public methods talk to it over channels.
type Broker struct {
	statusMin time.Duration
	heartbeat time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	stateCh       chan stateReq
	countReqCh    chan chan int

	status atomic.Pointer[func() any]

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker. statusThrottle is the minimum gap between
// two status.changed events.
func NewBroker(statusThrottle time.Duration) *Broker {
	if statusThrottle <= 0 {
		statusThrottle = 2 * time.Second
	}

	b := &Broker{
		statusMin:     statusThrottle,
		heartbeat:     15 * time.Second,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		stateCh:       make(chan stateReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		lastStatus time.Time
		seq        uint64
	)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than stall the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.stateCh:
			broadcast(Event{Type: req.typ, Data: req.change})

			now := time.Now()
			if now.Sub(lastStatus) < b.statusMin {
				continue
			}
			lastStatus = now
			src := b.status.Load()
			if src == nil {
				broadcast(Event{Type: TypeStatusChanged, Data: map[string]string{}})
				continue
			}
			// The source may take locks held by whoever is publishing
			// state, so it runs off the loop.
			go b.Publish(Event{Type: TypeStatusChanged, Data: (*src)()})

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// SetStatusSource makes status.changed events carry fn's result.
func (b *Broker) SetStatusSource(fn func() any) {
	if fn == nil {
		b.status.Store(nil)
		return
	}
	b.status.Store(&fn)
}

// Close stops the loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishState announces a connection or breaker transition, followed
// by a throttled status.changed event.
func (b *Broker) PublishState(typ string, change StateChange) {
	if b.closed.Load() {
		return
	}
	select {
	case b.stateCh <- stateReq{typ: typ, change: change}:
	case <-b.stopped:
	}
}

// PublishNote announces a note written through this service.
func (b *Broker) PublishNote(typ, noteID, title string) {
	b.Publish(Event{Type: typ, Data: map[string]string{"id": noteID, "title": title}})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
