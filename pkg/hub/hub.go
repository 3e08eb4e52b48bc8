package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/scentsafe/go-scentsafe/pkg/session"
)

// Source yields a subscription that follows every session.
type Source interface {
	Watch() *session.Subscription
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	name   string
	logger *slog.Logger

	// Registered clients, owned by Run
	clients map[*Client]struct{}

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	count   atomic.Int32
	running atomic.Bool
	dropped atomic.Int64

	stopOnce sync.Once
}

// New creates a hub.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("component", "hub", "hub", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx is done, closing every client.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		h.stopOnce.Do(func() { close(h.done) })
		for client := range h.clients {
			h.remove(client)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			n := h.count.Add(1)
			h.logger.Info("client connected", "clients", n)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
				h.logger.Info("client disconnected", "clients", h.count.Load())
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client is too slow; drop it rather than block everyone.
					h.remove(client)
					h.logger.Warn("dropped slow client", "clients", h.count.Load())
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.count.Add(-1)
}

// Broadcast queues data for all clients. It reports false if the queue is full.
func (h *Hub) Broadcast(data []byte) bool {
	select {
	case h.broadcast <- data:
		return true
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast queue full, dropping message")
		return false
	}
}

// BroadcastJSON wraps v in an envelope and broadcasts it.
func (h *Hub) BroadcastJSON(typ string, v any) error {
	data, err := Encode(typ, v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// Forward relays every session event from src to the clients until ctx is done.
func (h *Hub) Forward(ctx context.Context, src Source) error {
	sub := src.Watch()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := h.BroadcastJSON(TypeEvent, ev); err != nil {
				h.logger.Warn("encode event", "kind", ev.Kind, "err", err)
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// IsRunning returns whether the hub loop is running.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}
