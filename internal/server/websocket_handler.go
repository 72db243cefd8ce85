// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/northbound/stellar/internal/llm"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketManager tracks live connections so a ping loop can keep
// them alive; it carries no cross-process mailbox (single-process
// desktop tool, spec.md non-goal on multi-client fanout).
type WebSocketManager struct {
	clients    map[string]*websocket.Conn
	clientsMu  sync.RWMutex
	pingTicker *time.Ticker
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewWebSocketManager creates a manager and starts its ping loop.
func NewWebSocketManager() *WebSocketManager {
	ctx, cancel := context.WithCancel(context.Background())
	wm := &WebSocketManager{
		clients:    make(map[string]*websocket.Conn),
		pingTicker: time.NewTicker(30 * time.Second),
		ctx:        ctx,
		cancel:     cancel,
	}
	go wm.pingLoop()
	return wm
}

func (wm *WebSocketManager) pingLoop() {
	for {
		select {
		case <-wm.ctx.Done():
			return
		case <-wm.pingTicker.C:
			wm.pingAllClients()
		}
	}
}

func (wm *WebSocketManager) pingAllClients() {
	wm.clientsMu.RLock()
	clients := make(map[string]*websocket.Conn, len(wm.clients))
	for id, conn := range wm.clients {
		clients[id] = conn
	}
	wm.clientsMu.RUnlock()

	for clientID, conn := range clients {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
			wm.clientsMu.Lock()
			delete(wm.clients, clientID)
			wm.clientsMu.Unlock()
			conn.Close()
			continue
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	}
}

// Stop tears down the ping loop and closes every tracked connection.
func (wm *WebSocketManager) Stop() {
	wm.cancel()
	wm.pingTicker.Stop()

	wm.clientsMu.Lock()
	for id, conn := range wm.clients {
		conn.Close()
		delete(wm.clients, id)
	}
	wm.clientsMu.Unlock()
}

func (wm *WebSocketManager) register(clientID string, conn *websocket.Conn) {
	wm.clientsMu.Lock()
	wm.clients[clientID] = conn
	wm.clientsMu.Unlock()
}

func (wm *WebSocketManager) unregister(clientID string) {
	wm.clientsMu.Lock()
	delete(wm.clients, clientID)
	wm.clientsMu.Unlock()
}

// chatStreamFrame is one JSON object written to the socket per chunk.
// The terminal frame (Done true) is always written last, satisfying
// spec.md's streaming ordering guarantee.
type chatStreamFrame struct {
	Delta string    `json:"delta,omitempty"`
	Done  bool      `json:"done"`
	Usage llm.Usage `json:"usage,omitempty"`
	Error string    `json:"error,omitempty"`
}

// HandleChatStream upgrades to a WebSocket and streams a C4 provider's
// ChatStream chunks as they arrive.
func (s *Server) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = fmt.Sprintf("chat-%d", time.Now().UnixNano())
	}

	var req ChatTurnRequest
	if body := r.URL.Query().Get("request"); body != "" {
		json.Unmarshal([]byte(body), &req)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.ws.register(clientID, conn)
	defer s.ws.unregister(clientID)

	_, payload, err := conn.ReadMessage()
	if err == nil && len(payload) > 0 {
		json.Unmarshal(payload, &req)
	}

	provider, ok := s.resolveProvider(req.Provider)
	if !ok {
		conn.WriteJSON(chatStreamFrame{Done: true, Error: fmt.Sprintf("unknown provider %q", req.Provider)})
		return
	}

	ctx := r.Context()
	lastUserMessage := lastUserContent(req.Messages)
	_, contextBlock, err := s.retrieveContext(ctx, lastUserMessage, req.TopK)
	if err != nil {
		conn.WriteJSON(chatStreamFrame{Done: true, Error: err.Error()})
		return
	}

	messages := req.Messages
	if contextBlock != "" {
		messages = append([]llm.ChatMessage{{Role: "system", Content: contextBlock}}, messages...)
	}

	chunks, err := provider.ChatStream(ctx, llm.ChatRequest{Model: req.Model, Messages: messages})
	if err != nil {
		conn.WriteJSON(chatStreamFrame{Done: true, Error: err.Error()})
		return
	}

	sawDone := false
	for chunk := range chunks {
		frame := chatStreamFrame{Delta: chunk.Delta, Done: chunk.Done}
		if chunk.Usage != nil {
			frame.Usage = *chunk.Usage
		}
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
		if chunk.Done {
			sawDone = true
		}
	}
	if !sawDone {
		conn.WriteJSON(chatStreamFrame{Done: true})
	}
}
