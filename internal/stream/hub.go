// Package stream fans bus events out to server-sent-event clients.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"

	"session-guard/internal/event"
)

const clientBuffer = 32

type Client struct {
	send chan []byte
}

// Messages yields JSON-encoded events. The channel is closed when the hub
// drops the client.
func (c *Client) Messages() <-chan []byte {
	return c.send
}

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	bus        event.Bus
}

func NewHub(bus event.Bus) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		bus:        bus,
	}
}

// Run blocks until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			message, err := json.Marshal(e)
			if err != nil {
				slog.Error("failed to marshal event", "type", e.Type, "error", err)
				continue
			}
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					slog.Warn("dropping slow event stream client")
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Register adds a client. It returns nil when ctx ends or the hub stops
// before accepting it.
func (h *Hub) Register(ctx context.Context) *Client {
	client := &Client{send: make(chan []byte, clientBuffer)}
	select {
	case h.register <- client:
		return client
	case <-ctx.Done():
		return nil
	case <-h.done:
		return nil
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
