package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ai-call-bridge/internal/bridge"
	"ai-call-bridge/internal/observability/logging"
)

// MediaStream upgrades the provider's media connection and runs a bridge
// on it until the call ends.
func (h *Handlers) MediaStream(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	log := logging.WithComponent("media-stream")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("handle", handle).Msg("Websocket upgrade failed")
		return
	}

	b := bridge.New(bridge.Deps{
		Registry:  h.registry,
		Resolver:  h.resolver,
		Store:     h.store,
		Connector: h.connector,
		Events:    h.events,
		Metrics:   h.metrics,
	}, conn, handle)

	if err := b.Run(r.Context()); err != nil {
		log.Error().Err(err).Str("handle", handle).Msg("Bridge ended with setup error")
	}
}
