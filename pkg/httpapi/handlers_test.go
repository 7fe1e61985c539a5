package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/embedbatch/embedbatch/pkg/batch"
)

// stubProvider is a minimal embedding.Provider for exercising HandleEmbed
// without a batch engine in the loop.
type stubProvider struct {
	dim int
	err error
}

func (s *stubProvider) Embed(ctx context.Context, texts []string, hint int) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func (s *stubProvider) Dimension() int    { return s.dim }
func (s *stubProvider) ModelName() string { return "stub" }

func postJSON(t *testing.T, handler http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleEmbed_Success(t *testing.T) {
	s := &Server{Immediate: &stubProvider{dim: 4}}
	rec := postJSON(t, s.HandleEmbed, embedRequest{Inputs: []string{"a", "b"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp embedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Outputs) != 2 {
		t.Errorf("outputs = %d, want 2", len(resp.Outputs))
	}
}

func TestHandleEmbed_EmptyInputs(t *testing.T) {
	s := &Server{Immediate: &stubProvider{dim: 4}}
	rec := postJSON(t, s.HandleEmbed, embedRequest{Inputs: []string{}})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp embedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Outputs) != 0 {
		t.Errorf("outputs = %d, want 0", len(resp.Outputs))
	}
}

func TestHandleEmbed_ProviderError(t *testing.T) {
	s := &Server{Immediate: &stubProvider{dim: 4, err: errors.New("boom")}}
	rec := postJSON(t, s.HandleEmbed, embedRequest{Inputs: []string{"a"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (non-strict compatibility body)", rec.Code)
	}
	var resp embedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Outputs) != 0 {
		t.Errorf("outputs = %d, want 0", len(resp.Outputs))
	}
}

func TestHandleEmbed_ProviderError_Strict(t *testing.T) {
	s := &Server{Immediate: &stubProvider{dim: 4, err: errors.New("boom")}, StrictErrors: true}
	rec := postJSON(t, s.HandleEmbed, embedRequest{Inputs: []string{"a"}})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHandleEmbed_InvalidJSON(t *testing.T) {
	s := &Server{Immediate: &stubProvider{dim: 4}}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.HandleEmbed(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleEmbed_WrongMethod(t *testing.T) {
	s := &Server{Immediate: &stubProvider{dim: 4}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.HandleEmbed(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHandleEmbedBatch_RoutesThroughIntake(t *testing.T) {
	intake := make(chan *batch.BatchItem, 1)
	s := &Server{Intake: intake}

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- postJSON(t, s.HandleEmbedBatch, embedRequest{Inputs: []string{"x", "y"}})
	}()

	item := <-intake
	if len(item.Inputs) != 2 {
		t.Fatalf("item inputs = %d, want 2", len(item.Inputs))
	}
	item.Reply <- batch.Result{Vectors: [][]float32{{1}, {2}}}

	rec := <-done
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp embedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Outputs) != 2 {
		t.Errorf("outputs = %d, want 2", len(resp.Outputs))
	}
}

func TestHandleEmbedBatch_EngineError(t *testing.T) {
	intake := make(chan *batch.BatchItem, 1)
	s := &Server{Intake: intake}

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- postJSON(t, s.HandleEmbedBatch, embedRequest{Inputs: []string{"x"}})
	}()

	item := <-intake
	item.Reply <- batch.Result{Err: errors.New("upstream failed")}

	rec := <-done
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (non-strict compatibility body)", rec.Code)
	}
}

func TestHandleEmbedBatch_ClosedQueue(t *testing.T) {
	intake := make(chan *batch.BatchItem)
	close(intake)
	s := &Server{Intake: intake}

	rec := postJSON(t, s.HandleEmbedBatch, embedRequest{Inputs: []string{"x"}})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleHealthz(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.HandleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("body = %q, want OK", rec.Body.String())
	}
}
