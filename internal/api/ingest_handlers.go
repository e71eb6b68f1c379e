package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/iotview/sensord/internal/ingest"
	"github.com/iotview/sensord/internal/log"
	"github.com/iotview/sensord/internal/storage"
)

// Telemetry bodies are small; anything larger is not a sensor.
const maxIngestBody = 1 << 20

// ingestTelemetry handles POST /api/ingest. The request is authenticated by
// an HMAC-SHA256 signature over the raw body, not by a bearer token; the
// auth middleware skips this route.
func (h *Handler) ingestTelemetry(w http.ResponseWriter, r *http.Request) {
	if h.ingestSecret == "" {
		h.writeError(w, http.StatusServiceUnavailable, "ingestion is not configured")
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// Verify before parsing: the signature covers the exact raw bytes.
	sig := r.Header.Get(ingest.SignatureHeader)
	if err := ingest.VerifySignature(rawBody, sig, h.ingestSecret); err != nil {
		log.Warn("ingest rejected", "reason", "invalid signature", "remote_addr", r.RemoteAddr)
		h.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	msg, eventTime, err := ingest.ParseMessage(rawBody, time.Now().UTC())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	stored, err := h.ingestor.Ingest(msg, msg.Reading(eventTime))
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			h.writeError(w, http.StatusNotFound, "device not found")
			return
		}
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, stored)
}
