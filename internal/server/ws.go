package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func registerWSRoute(mux *http.ServeMux, hub *Hub, bridge Bridge, log *zap.Logger) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("ws upgrade error", zap.Error(err))
			return
		}
		defer func() { _ = conn.Close() }()

		sub := hub.Subscribe()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Reads only surface close frames and connection loss.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		connectionEvent := ConnectionEvent{
			Event:     newEvent("connection", time.Now().UTC()),
			Connected: true,
		}
		if bridge != nil {
			connectionEvent.Status = string(bridge.GetCurrentStatus())
		}
		if payload, err := json.Marshal(connectionEvent); err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				hub.Evict(sub)
				return
			}
		}

		for {
			msg, ok := sub.Next(ctx)
			if !ok {
				hub.Unsubscribe(sub)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Info("ws subscriber evicted", zap.Error(err))
				hub.Evict(sub)
				return
			}
		}
	})
}
