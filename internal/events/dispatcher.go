package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Dispatcher bridges the internal Bus to the aggregator over a websocket
// connection: every outbound-typed event published on the bus is shipped
// out, and every message received is republished as an inbound event.
type Dispatcher struct {
	url         string
	bus         *Bus
	log         zerolog.Logger
	outboundIDs map[Type]struct{}

	connMu sync.RWMutex
	conn   *websocket.Conn
}

// NewDispatcher builds a Dispatcher that connects to url and relays
// between conn and bus. outboundTypes lists the Bus event types this
// dispatcher forwards to the aggregator (the rest are treated as purely
// internal).
func NewDispatcher(url string, bus *Bus, log zerolog.Logger, outboundTypes ...Type) *Dispatcher {
	ids := make(map[Type]struct{}, len(outboundTypes))
	for _, t := range outboundTypes {
		ids[t] = struct{}{}
	}
	return &Dispatcher{
		url:         url,
		bus:         bus,
		log:         log.With().Str("service", "event-dispatcher").Logger(),
		outboundIDs: ids,
	}
}

// Run connects, relays until ctx is cancelled, and reconnects with backoff
// on transport failure. It is intended to run in its own goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		if err := d.runOnce(ctx); err != nil {
			d.log.Warn().Err(err).Dur("retry_in", backoff).Msg("aggregator connection lost, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (d *Dispatcher) runOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, d.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "dispatcher shutting down")

	d.setConn(conn)
	defer d.setConn(nil)

	unsubs := d.subscribeOutbound()
	defer func() {
		for _, sub := range unsubs {
			d.bus.Unsubscribe(sub)
		}
	}()

	for {
		var msg Event
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		d.bus.Publish(msg.Type, msg.Data)
	}
}

func (d *Dispatcher) subscribeOutbound() []Subscription {
	subs := make([]Subscription, 0, len(d.outboundIDs))
	for t := range d.outboundIDs {
		t := t
		subs = append(subs, d.bus.Subscribe(t, func(ev Event) {
			d.send(ev)
		}))
	}
	return subs
}

func (d *Dispatcher) send(ev Event) {
	conn := d.getConn()
	if conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, ev); err != nil {
		d.log.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("failed to send event to aggregator")
	}
}

func (d *Dispatcher) setConn(conn *websocket.Conn) {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	d.conn = conn
}

func (d *Dispatcher) getConn() *websocket.Conn {
	d.connMu.RLock()
	defer d.connMu.RUnlock()
	return d.conn
}

// NewRequestUID returns a fresh idempotency token for an outbound CRUD
// acknowledgement.
func NewRequestUID() string {
	return uuid.NewString()
}

// IsConnected reports whether the dispatcher currently holds a live
// connection to the aggregator. Subroutines consult this before deciding
// whether to publish live or fall back to the buffer (per the buffering
// rules around broker disconnects).
func (d *Dispatcher) IsConnected() bool {
	return d.getConn() != nil
}
