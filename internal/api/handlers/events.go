// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/pickr/internal/services/search"
)

const (
	eventBufferSize = 64
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// same-origin is not enforced; the API already allows any origin via CORS
	CheckOrigin: func(*http.Request) bool { return true },
}

// EventMessage is one websocket frame: the change that happened and the
// session snapshot after it.
type EventMessage struct {
	Type     search.EventType `json:"type"`
	Snapshot search.Snapshot  `json:"snapshot"`
}

// Events streams session changes over a websocket. The first frame carries
// the current snapshot. When the client falls behind, pending events are
// dropped; every frame carries a fresh snapshot anyway.
//
// The route is served without the session middleware because the upgrade
// hijacks the connection, so the session is loaded from the cookie here and
// must already exist. An open stream keeps the session from expiring and ends
// when the session is closed.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, o, ok := h.existingOrchestrator(r)
	if !ok {
		RespondError(w, http.StatusNotFound, "No active session")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events := make(chan search.EventType, eventBufferSize)
	unsubscribe := o.Subscribe(func(evt search.Event) {
		select {
		case events <- evt.Type:
		default:
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	go readPump(conn, done)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	if err := writeEvent(conn, EventMessage{Type: search.EventView, Snapshot: o.Snapshot()}); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-o.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
				time.Now().Add(writeWait))
			return
		case t := <-events:
			h.registry.Touch(id)
			if err := writeEvent(conn, EventMessage{Type: t, Snapshot: o.Snapshot()}); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ping.C:
			h.registry.Touch(id)
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, msg EventMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// readPump discards client frames and closes done when the client goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
	}
}

func (h *SessionHandler) existingOrchestrator(r *http.Request) (string, *search.Orchestrator, bool) {
	cookie, err := r.Cookie(h.sessionManager.Cookie.Name)
	if err != nil {
		return "", nil, false
	}

	ctx, err := h.sessionManager.Load(r.Context(), cookie.Value)
	if err != nil {
		log.Error().Err(err).Msg("failed to load session")
		return "", nil, false
	}

	id := h.sessionManager.GetString(ctx, sessionKey)
	if id == "" {
		return "", nil, false
	}
	o, ok := h.registry.Get(id)
	return id, o, ok
}
