// Package httpapi implements the HTTP front-end over the batch engine: the
// coalesced /embed_batch path, the lock-contending /embed immediate path,
// and /healthz.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/embedbatch/embedbatch/pkg/batch"
	"github.com/embedbatch/embedbatch/pkg/embedding"
)

// embedRequest is the JSON body both endpoints accept.
type embedRequest struct {
	Inputs []string `json:"inputs"`
}

// embedResponse is the JSON body both endpoints return.
type embedResponse struct {
	Outputs [][]float32 `json:"outputs"`
}

// Server holds the HTTP handlers' dependencies.
type Server struct {
	Intake chan<- *batch.BatchItem
	// Immediate is the Embedder used by the unbatched /embed path. If the
	// intake and immediate paths share one underlying Provider, Immediate
	// must be an embedding.Guarded wrapping the same instance passed to
	// the batch engine.
	Immediate embedding.Provider

	// StrictErrors, when true, surfaces engine-level failures as 500
	// instead of the documented 200 {"outputs":[]} compatibility body.
	StrictErrors bool
}

// immediateHint is the fixed chunk-size hint passed to unbatched calls, per
// the component design (the engine instead passes the batch's own total).
const immediateHint = 32

// HandleEmbedBatch implements the batched embed endpoint: submit to the
// intake queue, await the engine's reply.
func (s *Server) HandleEmbedBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	item := batch.NewBatchItem(req.Inputs)

	if !s.submit(item) {
		// Submission failure (the intake queue is closed) is a fixed 503,
		// unlike the reply-error path below: StrictErrors governs only
		// how an engine-reported failure is surfaced, not this case.
		s.writeJSON(w, http.StatusServiceUnavailable, embedResponse{Outputs: [][]float32{}})
		return
	}

	res := <-item.Reply
	if res.Err != nil {
		s.writeEmpty(w, http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, embedResponse{Outputs: res.Vectors})
}

// submit sends item to the intake queue. It tries a non-blocking send first
// (the common case, when there's room), then falls back to a blocking send
// so a full-but-open queue applies backpressure on the caller rather than
// failing fast. A send on a closed channel is "ready" from select's point of
// view and would otherwise panic past the default case, so the whole attempt
// runs under one recover: closed-while-open and closed-up-front both
// collapse to sent=false.
func (s *Server) submit(item *batch.BatchItem) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case s.Intake <- item:
		return true
	default:
	}

	s.Intake <- item
	return true
}

// HandleEmbed implements the immediate, unbatched embed endpoint. It
// bypasses the engine entirely and contends with it for the Embedder's
// exclusive lock.
func (s *Server) HandleEmbed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if len(req.Inputs) == 0 {
		s.writeJSON(w, http.StatusOK, embedResponse{Outputs: [][]float32{}})
		return
	}

	outputs, err := s.Immediate.Embed(r.Context(), req.Inputs, immediateHint)
	if err != nil {
		s.writeEmpty(w, http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, embedResponse{Outputs: outputs})
}

// HandleHealthz reports liveness.
func (s *Server) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// writeEmpty writes the documented {"outputs":[]} compatibility body,
// upgrading to the given status only when StrictErrors opts in.
func (s *Server) writeEmpty(w http.ResponseWriter, strictStatus int) {
	status := http.StatusOK
	if s.StrictErrors {
		status = strictStatus
	}
	s.writeJSON(w, status, embedResponse{Outputs: [][]float32{}})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body embedResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
