package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/nextlane/antigw/internal/aierrors"
)

// sseWriter adapts a flushing http.ResponseWriter to orchestrator.StreamWriter.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s *sseWriter) WriteFrame(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// dialectHandler returns an http.HandlerFunc that reads the request body,
// dispatches to the orchestrator for the named dialect, and streams or
// writes a single JSON body depending on the client's "stream" flag.
func (s *Server) dialectHandler(dialectName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
		if err != nil {
			writeDialectError(w, dialectName, http.StatusBadRequest, "failed to read request body")
			return
		}

		ctx := r.Context()
		var cancel context.CancelFunc
		if s.RequestTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, s.RequestTimeout)
			defer cancel()
		}

		if gjson.GetBytes(body, "stream").Bool() {
			s.serveStream(ctx, w, dialectName, body)
			return
		}
		s.serveBatch(ctx, w, dialectName, body)
	}
}

func (s *Server) serveBatch(ctx context.Context, w http.ResponseWriter, dialectName string, body []byte) {
	out, err := s.Orchestrator.Handle(ctx, dialectName, body)
	if err != nil {
		s.writeUpstreamError(w, dialectName, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

func (s *Server) serveStream(ctx context.Context, w http.ResponseWriter, dialectName string, body []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDialectError(w, dialectName, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sw := &sseWriter{w: w, f: flusher}
	if err := s.Orchestrator.HandleStream(ctx, dialectName, body, sw); err != nil {
		s.Log.Warn().Err(err).Str("dialect", dialectName).Msg("stream ended with error")
	}
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, dialectName string, err error) {
	var upErr *aierrors.UpstreamError
	if errors.As(err, &upErr) {
		status := upErr.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		writeDialectError(w, dialectName, status, upErr.Error())
		return
	}
	writeDialectError(w, dialectName, http.StatusBadGateway, err.Error())
}
