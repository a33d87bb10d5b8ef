package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iamanmiglani/Image-to-text/v1/core"
)

var upgrader = websocket.Upgrader{}

// watch polls once, then again on every turn change and every heartbeat,
// handing each answer to send. It returns when ctx ends, send fails or the
// session ends.
func (s *Server) watch(ctx context.Context, p string, send func([]byte) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	changes, err := s.app.Watch(ctx)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		sess, st, err := s.app.Poll(ctx, p)
		var msg []byte
		if err != nil {
			body := errorBody{Error: err.Error()}
			if sess.Participant != "" {
				v := viewOf(sess)
				body.Session = &v
			}
			msg, _ = json.Marshal(body)
		} else {
			msg, _ = json.Marshal(pollViewOf(sess, st))
		}
		if serr := send(msg); serr != nil {
			return serr
		}
		if errors.Is(err, core.ErrSessionEnded) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
		case <-ticker.C:
		}
	}
}

// handleEvents pushes poll answers over a WebSocket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	p := participant(w, r)
	conn, err := upgrader.Upgrade(w, r, w.Header())
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Reading detects the client going away; incoming messages are ignored.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	err = s.watch(ctx, p, func(msg []byte) error {
		return conn.WriteMessage(websocket.TextMessage, msg)
	})
	if err != nil {
		s.logger.Debug("event stream closed", "participant", p, "error", err)
	}
}

// handleEventStream pushes poll answers as server-sent events.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	p := participant(w, r)
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	err := s.watch(r.Context(), p, func(msg []byte) error {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		s.logger.Debug("event stream closed", "participant", p, "error", err)
	}
}
