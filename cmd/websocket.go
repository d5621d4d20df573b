package main

import (
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"purser/internal/events"
)

// EventSocketManager fans fulfillment bus events out to connected UI
// clients. Observers get grant notifications through here (or an in-process
// subscription), never by polling the entitlement cache.
type EventSocketManager struct {
	infoLog  *log.Logger
	errorLog *log.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*websocket.Conn

	unsubscribes []func()
}

type eventMessage struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

func NewEventSocketManager(infoLog, errorLog *log.Logger) *EventSocketManager {
	return &EventSocketManager{
		infoLog:  infoLog,
		errorLog: errorLog,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*websocket.Conn),
	}
}

// Attach subscribes the manager to every fulfillment topic.
func (m *EventSocketManager) Attach(bus *events.Bus) {
	m.unsubscribes = append(m.unsubscribes,
		bus.SubscribeSubscriptionChanged(func(ev events.SubscriptionChanged) {
			m.broadcast(eventMessage{Topic: "subscription_changed", Payload: ev})
		}),
		bus.SubscribeCoinsGranted(func(ev events.CoinsGranted) {
			m.broadcast(eventMessage{Topic: "coins_granted", Payload: ev})
		}),
		bus.SubscribeBundleGranted(func(ev events.BundleGranted) {
			m.broadcast(eventMessage{Topic: "bundle_granted", Payload: ev})
		}),
	)
}

func (m *EventSocketManager) Detach() {
	for _, off := range m.unsubscribes {
		off()
	}
	m.unsubscribes = nil

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, conn := range m.clients {
		_ = conn.Close()
		delete(m.clients, id)
	}
}

func (m *EventSocketManager) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.errorLog.Printf("event ws upgrade failed: %v", err)
		return
	}
	id := uuid.NewString()

	m.mu.Lock()
	m.clients[id] = conn
	m.mu.Unlock()
	m.infoLog.Printf("event client %s connected", id)

	// Reader only drains control frames; the feed is one-way.
	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.clients, id)
			m.mu.Unlock()
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (m *EventSocketManager) broadcast(msg eventMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, conn := range m.clients {
		if err := conn.WriteJSON(msg); err != nil {
			m.errorLog.Printf("event client %s write failed: %v", id, err)
			_ = conn.Close()
			delete(m.clients, id)
		}
	}
}
