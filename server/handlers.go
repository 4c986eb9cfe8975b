// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"

	"github.com/onnwee/chat-lottery/backend/lottery"
	"github.com/onnwee/chat-lottery/backend/realtime"
	"github.com/onnwee/chat-lottery/backend/relay"
	"github.com/onnwee/chat-lottery/backend/store"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx     context.Context
	db      *sql.DB
	store   *store.Store
	session *lottery.Session
	hub     *realtime.Hub
	relay   *relay.Relay
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, db *sql.DB, session *lottery.Session, hub *realtime.Hub, rel *relay.Relay) *Handlers {
	return &Handlers{
		ctx:     ctx,
		db:      db,
		store:   store.New(db),
		session: session,
		hub:     hub,
		relay:   rel,
	}
}
