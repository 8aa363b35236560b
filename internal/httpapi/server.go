// Package httpapi exposes the CI trigger endpoints and the public JSON dump.
//
//	GET /pkg                               claims and marks as JSON
//	GET /delete/{pkg}/{ftbfs|leaf}?token=  the package was built
//	GET /add/{pkg}/ftbfs?token=            the package failed to build
//	GET /debug/pprof/...                   profiling, when enabled (token required)
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"rvbot/internal/marks"
	logx "rvbot/pkg/logx"
)

// Engine is the part of *marks.Engine the API drives.
type Engine interface {
	OnBuilt(ctx context.Context, pkg string) marks.Report
	OnFailing(ctx context.Context, pkg string) marks.Report
	Dump() marks.Dump
}

type Config struct {
	Addr  string
	Token string
	// RequestTimeout bounds one request. Defaults to 30s.
	RequestTimeout time.Duration
	// Pprof mounts net/http/pprof under /debug.
	Pprof bool
}

type Server struct {
	eng Engine
	log logx.Logger

	mu  sync.RWMutex
	cfg Config
}

func New(cfg Config, eng Engine, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Server{eng: eng, log: log.With(logx.String("comp", "httpapi")), cfg: cfg}
}

// SetToken swaps the API token. Used on config reload.
func (s *Server) SetToken(token string) {
	s.mu.Lock()
	s.cfg.Token = token
	s.mu.Unlock()
}

func (s *Server) token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Token
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/pkg", s.handlePkg)
	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.With(middleware.Timeout(s.cfg.RequestTimeout)).Get("/delete/{pkg}/{status}", s.handleDelete)
		r.With(middleware.Timeout(s.cfg.RequestTimeout)).Get("/add/{pkg}/{status}", s.handleAdd)
		if s.cfg.Pprof {
			// Profiles outlive the request timeout, so no Timeout here.
			r.Mount("/debug", middleware.Profiler())
		}
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		plain(w, http.StatusNotFound, "Not Found")
	})
	return r
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("http api shutdown", logx.Err(err))
	}
	return nil
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.token()
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			plain(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		// The query carries the token: log the path only.
		s.log.Info("http request",
			logx.String("rid", middleware.GetReqID(r.Context())),
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	})
}

func (s *Server) handlePkg(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.eng.Dump()); err != nil {
		s.log.Warn("pkg dump write failed", logx.Err(err))
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	pkg, status := chi.URLParam(r, "pkg"), chi.URLParam(r, "status")
	if pkg == "" || (status != "ftbfs" && status != "leaf") {
		plain(w, http.StatusBadRequest, "Bad Request")
		return
	}
	rep := s.eng.OnBuilt(r.Context(), pkg)
	s.report(w, "build", rep)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	pkg, status := chi.URLParam(r, "pkg"), chi.URLParam(r, "status")
	if pkg == "" || status != "ftbfs" {
		plain(w, http.StatusBadRequest, "Bad Request")
		return
	}
	rep := s.eng.OnFailing(r.Context(), pkg)
	s.report(w, "failure", rep)
}

// report answers 200 like the CI expects. Partial failures were already
// announced in the chat; they are logged here.
func (s *Server) report(w http.ResponseWriter, kind string, rep marks.Report) {
	if rep.Err != nil {
		s.log.Warn(kind+" propagation incomplete", logx.String("package", rep.Package), logx.Err(rep.Err))
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if !rep.OwnerFound {
		_, _ = io.WriteString(w, "package not found;")
	}
	_, _ = io.WriteString(w, "success")
}

func plain(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, body)
}
