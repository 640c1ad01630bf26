package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"qqbot/pkg/bus"
	"qqbot/pkg/inbound"
)

const (
	maxWebhookBody = 1 << 20
	eventBuffer    = 64
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second

	headerAppID     = "X-Bot-Appid"
	headerSignature = "X-Signature-Ed25519"
	headerTimestamp = "X-Signature-Timestamp"
)

var localOrigins = []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, prefix := range localOrigins {
			if strings.HasPrefix(origin, prefix) {
				return true
			}
		}
		return false
	},
}

func (s *Service) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", s.metrics.Handler())

	r.Post("/webhook", s.handleWebhook)
	r.Post("/webhook/{app}", s.handleWebhook)
	r.Get("/events", s.handleEvents)

	if s.files != nil {
		r.Handle("/files/*", s.files)
	}
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleWebhook routes a platform callback to the account owning the app id
// in the path or the X-Bot-Appid header.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "app")
	if appID == "" {
		appID = r.Header.Get(headerAppID)
	}
	rt, ok := s.manager.forApp(appID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown app id"}, s.log)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read body"}, s.log)
		return
	}

	if sig := r.Header.Get(headerSignature); sig != "" {
		if !inbound.Verify(rt.account.Secret, r.Header.Get(headerTimestamp), body, sig) {
			s.log.Warn("Webhook signature mismatch", "account_id", rt.account.ID)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid signature"}, s.log)
			return
		}
	}

	resp, err := rt.adapter.HandleWebhook(r.Context(), body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, inbound.ErrNoSecret) {
			status = http.StatusInternalServerError
		}
		s.log.Warn("Webhook rejected", "account_id", rt.account.ID, "error", err)
		writeJSON(w, status, errorResponse{Error: err.Error()}, s.log)
		return
	}
	writeJSON(w, http.StatusOK, resp, s.log)
}

// handleEvents streams bus events as JSON over a websocket. Repeated prefix
// query parameters narrow the stream.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the handshake completes so a client sees every event
	// published after its dial returns.
	events, unsubscribe := s.bus.SubscribeEvents(ctx, eventBuffer, r.URL.Query()["prefix"]...)
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Event stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := s.writeEvent(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Service) writeEvent(conn *websocket.Conn, ev bus.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		s.log.Debug("Event stream closed", "error", err)
		return err
	}
	return nil
}
