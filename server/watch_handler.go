package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"
)

const watchWriteTimeout = 5 * time.Second

// SessionWatchHandler streams a StateResponse over a websocket for the current state and every
// transition after it. Only the latest state is delivered to a slow reader.
func (s *Server) SessionWatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: s.config.GetOriginPatterns(),
		})
		if err != nil {
			log.Err(err).Msg("SessionWatch: websocket accept failed")
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

		// The peer never sends anything; reading only watches for its close.
		ctx := conn.CloseRead(r.Context())

		for st := range s.sessions.Subscribe(ctx) {
			if err := writeState(ctx, conn, NewStateResponse(st)); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					log.Err(err).Msg("SessionWatch: write failed")
				}
				return
			}
		}
	}
}

func writeState(parent context.Context, conn *websocket.Conn, resp StateResponse) error {
	ctx, cancel := context.WithTimeout(parent, watchWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, resp)
}
