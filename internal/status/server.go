// Package status serves health, metrics and last-run state over HTTP while
// the scheduler is running.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"marketrefresh/internal/refresh"
)

// Run describes one refresh run
type Run struct {
	ID         uuid.UUID                       `json:"id"`
	StartedAt  time.Time                       `json:"startedAt"`
	FinishedAt *time.Time                      `json:"finishedAt,omitempty"`
	Results    map[refresh.Kind]refresh.Result `json:"results,omitempty"`
	Error      string                          `json:"error,omitempty"`
}

// Board holds the current and last completed runs
type Board struct {
	mu       sync.RWMutex
	current  *Run
	last     *Run
	next     time.Time
	finished int
}

// Start records the beginning of a run and returns its ID
func (b *Board) Start(at time.Time) uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = &Run{ID: uuid.New(), StartedAt: at}
	return b.current.ID
}

// Finish records the end of the current run
func (b *Board) Finish(at time.Time, results map[refresh.Kind]refresh.Result, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return
	}
	run := *b.current
	run.FinishedAt = &at
	run.Results = results
	if err != nil {
		run.Error = err.Error()
	}
	b.last = &run
	b.current = nil
	b.finished++
}

// SetNext records when the next run is scheduled
func (b *Board) SetNext(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = t
}

// Running reports whether a run is in progress
func (b *Board) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current != nil
}

// Snapshot is the /status response body
type Snapshot struct {
	Running      bool       `json:"running"`
	Current      *Run       `json:"current,omitempty"`
	Last         *Run       `json:"last,omitempty"`
	NextRun      *time.Time `json:"nextRun,omitempty"`
	FinishedRuns int        `json:"finishedRuns"`
}

// Snapshot returns a copy of the board's state
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Snapshot{
		Running:      b.current != nil,
		Current:      b.current,
		Last:         b.last,
		FinishedRuns: b.finished,
	}
	if !b.next.IsZero() {
		next := b.next
		s.NextRun = &next
	}
	return s
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the status HTTP server
type Server struct {
	echo  *echo.Echo
	board *Board
	log   zerolog.Logger
}

// NewServer creates a status server; metrics may be nil
func NewServer(board *Board, db Pinger, metrics http.Handler, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, board: board, log: log.With().Str("component", "status").Logger()}

	e.GET("/healthz", func(c echo.Context) error {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, board.Snapshot())
	})
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
	return s
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr in the background and returns the bound address
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("status server listen: %w", err)
	}
	s.echo.Listener = ln

	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("status server stopped")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
	return ln.Addr().String(), nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}
