package chat

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/linechat/internal/cancel"
	"github.com/adred-codev/linechat/internal/history"
)

const (
	// Time allowed to write one line to the peer before the write pump
	// gives up on it.
	writeWait = 5 * time.Second

	// Outbound line queue per session. Lines beyond this are dropped
	// rather than blocking the hub.
	sendQueueSize = 64
)

// Session is the per-connection state record. All fields except the send
// queue are owned by the hub goroutine; nothing here needs locking.
type Session struct {
	peer string   // remote address, for logs
	name string   // display name, unique across the roster
	conn net.Conn // nil in tests

	// send carries formatted lines (without trailing newline) to the
	// write pump. Closed by the hub on teardown; closed sessions never
	// receive another line.
	send   chan string
	closed bool

	// personal history: every historyable line this user saw, seeded
	// from the room history on join.
	history *history.Buffer

	// delayTokens is the LIFO stack of pending delayed sends.
	delayTokens []*cancel.Token

	// reporters tracks which sessions reported this user, by identity.
	// Cleared when a ban is applied.
	reporters map[*Session]struct{}

	banUntil      time.Time // zero = never banned
	spamWindowEnd time.Time
	spamCount     int

	connectedAt time.Time
}

func newSession(conn net.Conn, name string, historySize int) *Session {
	peer := "unknown"
	if conn != nil {
		peer = conn.RemoteAddr().String()
	}
	return &Session{
		peer:        peer,
		name:        name,
		conn:        conn,
		send:        make(chan string, sendQueueSize),
		history:     history.New(historySize),
		reporters:   make(map[*Session]struct{}),
		connectedAt: time.Now(),
	}
}

// Name returns the session's current display name.
func (u *Session) Name() string {
	return u.name
}

// queueLine hands a line to the write pump without blocking. Returns false
// if the line was dropped (session closed or queue full).
func (u *Session) queueLine(line string) bool {
	if u.closed {
		return false
	}
	select {
	case u.send <- line:
		return true
	default:
		return false
	}
}

// isBanned reports whether the session is banned at the given instant.
func (u *Session) isBanned(now time.Time) bool {
	return !u.banUntil.IsZero() && u.banUntil.After(now)
}

// reportedBy reports whether reporter already reported this session.
func (u *Session) reportedBy(reporter *Session) bool {
	_, ok := u.reporters[reporter]
	return ok
}

// countMessageAndCheckSpam advances the spam window and counts one message.
// Returns true if the message exceeds the window limit. The message is
// counted either way, so a rejected message still burns quota for the rest
// of the window.
func (u *Session) countMessageAndCheckSpam(now time.Time, limit int, period time.Duration) bool {
	if u.spamWindowEnd.IsZero() || now.After(u.spamWindowEnd) {
		u.spamCount = 0
		u.spamWindowEnd = now.Add(period)
	}
	u.spamCount++
	return u.spamCount > limit
}

// pushDelayToken appends a pending delayed-send token.
func (u *Session) pushDelayToken(t *cancel.Token) {
	u.delayTokens = append(u.delayTokens, t)
}

// popDelayToken removes and returns the most recent token, or nil.
func (u *Session) popDelayToken() *cancel.Token {
	if len(u.delayTokens) == 0 {
		return nil
	}
	t := u.delayTokens[len(u.delayTokens)-1]
	u.delayTokens = u.delayTokens[:len(u.delayTokens)-1]
	return t
}

// removeDelayToken removes a specific token; no-op if absent (it may have
// been popped by CANCEL before the timer fired).
func (u *Session) removeDelayToken(t *cancel.Token) {
	for i, existing := range u.delayTokens {
		if existing == t {
			u.delayTokens = append(u.delayTokens[:i], u.delayTokens[i+1:]...)
			return
		}
	}
}

// writePump drains the send queue onto the TCP connection, one line per
// entry. Runs in its own goroutine per session; exits when the hub closes
// the queue, then closes the connection (which also unblocks the read
// loop).
//
// Write errors do not stop the pump: it keeps draining so the hub is never
// back-pressured by a dead peer, and the read loop notices the closed
// connection independently.
func (u *Session) writePump(wg *sync.WaitGroup, logger zerolog.Logger) {
	defer wg.Done()

	for line := range u.send {
		if u.conn == nil {
			continue
		}
		u.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if _, err := u.conn.Write([]byte(line + "\n")); err != nil {
			logger.Debug().
				Str("peer", u.peer).
				Err(err).
				Msg("Failed to write line to client")
		}
	}

	if u.conn != nil {
		u.conn.Close()
	}
}
