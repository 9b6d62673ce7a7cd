package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/bastiangx/pcserve/internal/logger"
	"github.com/bastiangx/pcserve/internal/utils"
	"github.com/bastiangx/pcserve/pkg/config"
	"github.com/bastiangx/pcserve/pkg/dictionary"
	"github.com/bastiangx/pcserve/pkg/suggest"
	"github.com/charmbracelet/log"
	"github.com/vmihailenco/msgpack/v5"
)

// Server answers msgpack requests against the current reference bundle.
type Server struct {
	bundle   atomic.Pointer[dictionary.Bundle]
	registry *dictionary.Registry
	config   *config.Config
	reader   io.Reader
	encoder  *msgpack.Encoder
	requests atomic.Int64
	logger   *log.Logger
}

// NewServer creates a server over r and w. registry may be nil; it is only
// used for stats.
func NewServer(b *dictionary.Bundle, registry *dictionary.Registry, cfg *config.Config, r io.Reader, w io.Writer) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		registry: registry,
		config:   cfg,
		reader:   r,
		encoder:  msgpack.NewEncoder(w),
		logger:   logger.New("ipc"),
	}
	s.bundle.Store(b)
	return s
}

// Swap replaces the bundle used by subsequent requests.
func (s *Server) Swap(b *dictionary.Bundle) {
	if b == nil {
		return
	}
	s.bundle.Store(b)
	s.logger.Debug("bundle swapped", "tables", b.Fingerprints[dictionary.KindTables])
}

// Bundle returns the bundle currently served.
func (s *Server) Bundle() *dictionary.Bundle {
	return s.bundle.Load()
}

// Start announces readiness and serves until EOF or ctx is done. Requests of
// the wrong shape get an error response; only a broken stream ends the loop
// with an error.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Debug("Starting server")
	if err := s.send(Response{Status: StatusReady}); err != nil {
		return err
	}

	dec := msgpack.NewDecoder(s.reader)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		raw, err := dec.DecodeRaw()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Debug("input closed")
				return nil
			}
			s.logger.Errorf("Reading request stream: %v", err)
			_ = s.send(Response{Status: StatusError, Error: "unreadable request stream"})
			return err
		}
		if err := s.send(s.handle(ctx, raw)); err != nil {
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, raw msgpack.RawMessage) Response {
	start := time.Now()
	s.requests.Add(1)

	var req Request
	if err := msgpack.Unmarshal(raw, &req); err != nil {
		s.logger.Warnf("Malformed request: %v", err)
		resp := errorResponse(requestID(raw), "malformed request")
		resp.TimeTaken = time.Since(start).Microseconds()
		return resp
	}

	resp := s.dispatch(ctx, req)
	resp.ID = req.ID
	resp.TimeTaken = time.Since(start).Microseconds()
	return resp
}

// requestID salvages the id of a request that failed to decode.
func requestID(raw msgpack.RawMessage) string {
	var m map[string]any
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return ""
	}
	id, _ := m["id"].(string)
	return id
}

func errorResponse(id, msg string) Response {
	return Response{ID: id, Status: StatusError, Error: msg}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	if req.Op == OpHealth {
		return Response{Status: StatusOK}
	}
	b := s.bundle.Load()
	if b == nil || b.Engine == nil {
		return errorResponse(req.ID, "no references loaded")
	}

	switch req.Op {
	case OpValidate:
		valid := b.Engine.IsValid(req.Code)
		return Response{Status: StatusOK, Valid: &valid}

	case OpPrefix:
		valid := b.Engine.IsPotentialPrefix(req.Code)
		return Response{Status: StatusOK, Valid: &valid}

	case OpExpand:
		codes := b.Engine.Expand(req.Code, s.limit(req.Limit))
		return Response{Status: StatusOK, Codes: codes, Count: len(codes)}

	case OpExplain:
		x := b.Engine.Explain(req.Code)
		resp := Response{Status: StatusOK, Valid: &x.Valid, Explanation: &x}
		if x.Valid && b.Definitions != nil {
			resp.Description = b.Definitions.Describe(x.Code, b.Engine)
		}
		return resp

	case OpNext:
		next := b.Engine.NextChars(req.Code)
		return Response{Status: StatusOK, Next: &next, Count: len(next.Options)}

	case OpSearch:
		if b.Index == nil {
			return errorResponse(req.ID, "no index loaded")
		}
		cutoff := s.config.Index.ScoreCutoff
		if req.Cutoff != nil {
			cutoff = *req.Cutoff
		}
		query := s.bounded(req.Query)
		hits := b.Index.Search(query, s.limit(req.Limit), cutoff)
		return Response{Status: StatusOK, Hits: hits, Count: len(hits)}

	case OpSuggest:
		if b.Index == nil {
			return errorResponse(req.ID, "no index loaded")
		}
		opts := s.config.SuggestOptions()
		opts.MaxCodes = s.limit(req.Limit)
		if req.Cutoff != nil {
			opts.ScoreCutoff = *req.Cutoff
		}
		text := s.bounded(req.Text)
		out, err := suggest.Suggest(ctx, text, b.Engine, b.Index, opts)
		if err != nil {
			return errorResponse(req.ID, err.Error())
		}
		return Response{Status: StatusOK, Suggestions: out, Count: len(out)}

	case OpStats:
		return Response{Status: StatusOK, Stats: s.stats(b)}
	}
	return errorResponse(req.ID, fmt.Sprintf("unknown op: %s", req.Op))
}

// limit applies the configured ceiling; zero or negative asks for the CLI default.
func (s *Server) limit(requested int) int {
	if requested <= 0 {
		requested = s.config.CLI.DefaultLimit
	}
	if ceiling := s.config.Server.MaxLimit; ceiling > 0 && requested > ceiling {
		return ceiling
	}
	return requested
}

func (s *Server) bounded(text string) string {
	if s.config.Server.MaxText <= 0 {
		return text
	}
	return utils.Truncate(text, s.config.Server.MaxText)
}

func (s *Server) stats(b *dictionary.Bundle) *StatsPayload {
	p := &StatsPayload{
		Tables:       b.Engine.Stats(),
		Fingerprints: make(map[string]string, len(b.Fingerprints)),
		LoadedAt:     b.LoadedAt.Unix(),
		Requests:     s.requests.Load(),
	}
	if b.Index != nil {
		st := b.Index.Stats()
		p.Index = &st
	}
	if b.Definitions != nil {
		p.Operations, p.Definitions = b.Definitions.Len()
	}
	if s.registry != nil {
		p.Registry = s.registry.Stats()
	}
	for k, fp := range b.Fingerprints {
		p.Fingerprints[string(k)] = fp
	}
	return p
}

func (s *Server) send(resp Response) error {
	if err := s.encoder.Encode(resp); err != nil {
		s.logger.Errorf("Encoding response: %v", err)
		return err
	}
	return nil
}
