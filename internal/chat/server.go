// Package chat implements the server-side chat session engine: the user
// roster, per-connection request handling, room history, delayed delivery,
// spam throttling, and report-driven bans.
//
// Concurrency model: one hub goroutine owns every piece of chat state
// (roster, room history, name counter, session fields). Connection read
// loops and delay timers never touch state directly; they submit closures
// to the hub's task queue. Each session has a buffered write pump so a slow
// peer cannot stall the hub.
package chat

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/linechat/internal/config"
	"github.com/adred-codev/linechat/internal/history"
	"github.com/adred-codev/linechat/internal/limits"
	"github.com/adred-codev/linechat/internal/monitoring"
)

const (
	// One Read of up to this many bytes is treated as one command, with
	// no newline reframing. The bundled client sends one command per
	// write; a client that batches commands into a single write will have
	// them parsed as one.
	readBufferSize = 1024

	// Hub task queue. Sized for bursts; submitters block (preserving
	// order) when it fills.
	taskQueueSize = 256
)

// timeString renders a timestamp the way it appears on the wire:
// "[YYYY-MM-DD HH:MM:SS]".
func timeString(t time.Time) string {
	return "[" + t.Format("2006-01-02 15:04:05") + "]"
}

// Server owns the roster and room state. Create with New, then Start.
type Server struct {
	cfg     *config.Config
	logger  zerolog.Logger
	limiter *limits.ConnectionRateLimiter // nil disables accept-time limiting

	listener net.Listener

	// tasks serializes all chat-state access onto the hub goroutine.
	tasks chan func()

	// Hub-owned state.
	users       []*Session // join order
	roomHistory *history.Buffer
	nameCounter int

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shuttingDown int32

	// now is the hub clock; swapped in tests.
	now func() time.Time
}

// New creates a Server. limiter may be nil.
func New(cfg *config.Config, logger zerolog.Logger, limiter *limits.ConnectionRateLimiter) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:         cfg,
		logger:      logger.With().Str("component", "chat").Logger(),
		limiter:     limiter,
		tasks:       make(chan func(), taskQueueSize),
		roomHistory: history.New(cfg.HistorySize),
		ctx:         ctx,
		cancel:      cancel,
		now:         time.Now,
	}
}

// Start binds the listener and launches the hub and accept loops.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	s.listener = listener

	s.logger.Info().
		Str("addr", s.cfg.Addr()).
		Msg("Server listening")

	s.wg.Add(1)
	go s.run()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// run is the hub goroutine: it executes submitted tasks one at a time, so
// invariants hold across every handler without locks.
func (s *Server) run() {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.tasks:
			task()
		case <-s.ctx.Done():
			return
		}
	}
}

// do submits a task to the hub. Blocks when the queue is full (preserving
// submission order per connection); becomes a no-op once shutdown begins.
func (s *Server) do(task func()) {
	select {
	case s.tasks <- task:
	case <-s.ctx.Done():
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.shuttingDown) == 1 {
				return
			}
			s.logger.Error().
				Err(err).
				Msg("Accept loop error")
			return
		}

		if s.limiter != nil {
			ip, _, splitErr := net.SplitHostPort(conn.RemoteAddr().String())
			if splitErr != nil {
				ip = conn.RemoteAddr().String()
			}
			if !s.limiter.Allow(ip) {
				conn.Close()
				continue
			}
		}

		monitoring.IncrementConnections()
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// addSession mints the default name for a fresh connection, seeds the
// personal history from the room history snapshot, and inserts the session
// into the roster. Hub-only.
func (s *Server) addSession(conn net.Conn) *Session {
	s.nameCounter++
	name := fmt.Sprintf("%s_%d", s.cfg.DefaultNamePrefix, s.nameCounter)

	sess := newSession(conn, name, s.cfg.HistorySize)
	for _, line := range s.roomHistory.Snapshot() {
		sess.history.Add(line)
	}
	s.users = append(s.users, sess)
	return sess
}

// join creates the session for an accepted connection and starts its write
// pump. Hub-only.
func (s *Server) join(conn net.Conn) *Session {
	sess := s.addSession(conn)

	s.wg.Add(1)
	go sess.writePump(&s.wg, s.logger)

	s.logger.Info().
		Str("peer", sess.peer).
		Str("user", sess.name).
		Int("roster_size", len(s.users)).
		Msg("Session joined")

	return sess
}

// Addr returns the bound listener address (useful when the configured port
// is 0).
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// leave tears a session down: cancels pending delay tokens, removes the
// session from the roster and from every reporters set (so a departed
// session cannot keep raising ban counts), broadcasts the departure, and
// closes the write pump. Hub-only; safe to call twice.
func (s *Server) leave(sess *Session) {
	if sess.closed {
		return
	}

	for _, token := range sess.delayTokens {
		token.Cancel()
	}
	sess.delayTokens = nil

	for i, u := range s.users {
		if u == sess {
			s.users = append(s.users[:i], s.users[i+1:]...)
			break
		}
	}
	for _, u := range s.users {
		delete(u.reporters, sess)
	}

	s.broadcast(sess.name+" left the chat", nil, false)

	sess.closed = true
	close(sess.send)
	monitoring.DecrementConnections()

	s.logger.Info().
		Str("peer", sess.peer).
		Str("user", sess.name).
		Int("roster_size", len(s.users)).
		Msg("Session left")
}

// userByName finds a live session by its current name, or nil.
func (s *Server) userByName(name string) *Session {
	for _, u := range s.users {
		if u.name == name {
			return u
		}
	}
	return nil
}

// deliver formats one line for one session and queues it on the write
// pump. showTime prefixes the wire timestamp; addToHistory records the
// formatted line in the session's personal history. Returns the formatted
// line.
func (s *Server) deliver(u *Session, msg string, addToHistory, showTime bool) string {
	if showTime {
		msg = timeString(s.now()) + " " + msg
	}
	if addToHistory {
		u.history.Add(msg)
	}
	if !u.queueLine(msg) {
		monitoring.IncrementDroppedWrites()
		s.logger.Warn().
			Str("peer", u.peer).
			Str("user", u.name).
			Msg("Dropped outbound line (send buffer full or session closed)")
	}
	return msg
}

// broadcast sends a timestamped line to every user except exclude. The
// timestamp is computed once so all recipients and both history buffers
// store the identical line. Returns the formatted line, or "" if nobody
// received it.
func (s *Server) broadcast(msg string, exclude *Session, addToHistory bool) string {
	full := timeString(s.now()) + " " + msg
	sent := ""
	for _, u := range s.users {
		if u == exclude {
			continue
		}
		if addToHistory {
			u.history.Add(full)
		}
		if !u.queueLine(full) {
			monitoring.IncrementDroppedWrites()
		}
		sent = full
	}
	return sent
}

// Shutdown stops accepting connections, tears down every session (which
// cancels all pending delayed sends), and waits for all goroutines.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Initiating graceful shutdown")

	atomic.StoreInt32(&s.shuttingDown, 1)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	s.do(func() {
		remaining := make([]*Session, len(s.users))
		copy(remaining, s.users)
		for _, u := range remaining {
			s.leave(u)
		}
		close(done)
	})

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Warn().Msg("Timed out draining sessions, forcing shutdown")
	}

	s.cancel()
	s.wg.Wait()

	s.logger.Info().Msg("Graceful shutdown completed")
	return nil
}
