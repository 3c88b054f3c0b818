package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ArcaView/qualifyr/auth"
	"github.com/ArcaView/qualifyr/types"
	"github.com/rs/zerolog/log"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 30 * time.Second

// SSEHandler streams change events for the authenticated user using
// server-sent events.
func SSEHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := auth.GetUserFromContext(r.Context())
		if user == nil {
			types.WriteHTTPError(w, types.NewHTTPError(http.StatusUnauthorized, "Authentication required", nil))
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			types.WriteHTTPError(w, types.NewHTTPError(http.StatusInternalServerError, "Streaming unsupported", nil))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		sub := hub.Subscribe(user.ID)
		defer hub.Unsubscribe(sub)

		log.Debug().Str("user_id", user.ID.String()).Msg("SSE subscriber connected")

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return

			case <-heartbeat.C:
				fmt.Fprint(w, ": heartbeat\n\n")
				flusher.Flush()

			case event, open := <-sub.Events():
				if !open {
					// Hub cut the feed; the client reconnects and
					// re-reads the session list.
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					log.Error().Err(err).Msg("Failed to marshal change event")
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
				flusher.Flush()
			}
		}
	}
}
