package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mattercloud/mcc-core/internal/matter"
	"github.com/mattercloud/mcc-core/internal/queue"
	"github.com/mattercloud/mcc-core/internal/shadow"
)

// handleListNodes issues a node listing through the work queue and waits for
// the correlated response. The wait is bounded by the configured response
// timeout.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	req := matter.GetNodesRequest(matter.NewMessageID())
	payload, err := req.Encode()
	if err != nil {
		s.logger.Error("encoding node listing request", "error", err)
		writeInternalError(w, "encoding request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.responseTimeout)
	defer cancel()

	// Register before enqueueing so a fast response cannot slip past.
	result := s.registry.Await(ctx, req.MessageID)

	if err := s.queue.Put(ctx, queue.Item{Payload: payload, Source: "api"}); err != nil {
		s.logger.Error("enqueueing node listing request", "error", err)
		writeInternalError(w, "queueing request")
		return
	}

	select {
	case raw := <-result:
		writeRaw(w, http.StatusOK, raw)
	case <-ctx.Done():
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "device graph did not respond")
	}
}

// handleListShadows returns every shard name stored for a thing, walking
// the store's pages so callers get the complete listing in one response.
func (s *Server) handleListShadows(w http.ResponseWriter, r *http.Request) {
	thing := chi.URLParam(r, "thing")

	shards, err := shadow.ListAll(r.Context(), s.store, thing)
	if err != nil {
		s.logger.Error("listing shadows", "thing", thing, "error", err)
		writeInternalError(w, "listing shadows")
		return
	}
	if shards == nil {
		shards = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results":   shards,
		"timestamp": time.Now().Unix(),
	})
}

// handleDeleteShadow removes a stored shadow document. Deleting an absent
// shard succeeds; the store treats it as a no-op.
func (s *Server) handleDeleteShadow(w http.ResponseWriter, r *http.Request) {
	thing := chi.URLParam(r, "thing")
	shard := chi.URLParam(r, "shadow")

	if err := s.store.Delete(r.Context(), thing, shard); err != nil {
		s.logger.Error("deleting shadow", "thing", thing, "shard", shard, "error", err)
		writeInternalError(w, "deleting shadow")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "DeleteNamedShadowForThing",
		"response":    "OK",
		"return_code": http.StatusOK,
	})
}

// handleGetShadow returns a stored shadow document.
func (s *Server) handleGetShadow(w http.ResponseWriter, r *http.Request) {
	thing := chi.URLParam(r, "thing")
	shard := chi.URLParam(r, "shadow")

	doc, err := s.store.Get(r.Context(), thing, shard)
	if err != nil {
		if errors.Is(err, shadow.ErrNotFound) {
			writeNotFound(w, "shadow not found")
			return
		}
		s.logger.Error("reading shadow", "thing", thing, "shard", shard, "error", err)
		writeInternalError(w, "reading shadow")
		return
	}
	writeRaw(w, http.StatusOK, doc)
}

// writeRaw writes pre-encoded JSON.
func writeRaw(w http.ResponseWriter, status int, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(raw)
}
