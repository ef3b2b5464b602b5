package chat

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/linechat/internal/config"
)

// fakeClock lets tests drive the hub clock.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func testConfig() *config.Config {
	return &config.Config{
		Host:              "127.0.0.1",
		Port:              0,
		DefaultNamePrefix: "Anonymous",
		GreetingMessage:   "Welcome to Test Server",
		HistorySize:       3,
		ReportsForBan:     2,
		BanDuration:       600 * time.Second,
		SpamMessageLimit:  2,
		SpamPeriod:        10 * time.Second,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// newTestServer returns a server whose hub is not running; tests invoke
// handlers directly, which matches the single-threaded execution model.
func newTestServer(t *testing.T) (*Server, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)}
	srv := New(testConfig(), zerolog.Nop(), nil)
	srv.now = func() time.Time { return clk.now }
	return srv, clk
}

// drainLines empties a session's outbound queue.
func drainLines(u *Session) []string {
	var out []string
	for {
		select {
		case line := <-u.send:
			out = append(out, line)
		default:
			return out
		}
	}
}

func stamp(clk *fakeClock) string {
	return timeString(clk.now)
}

func TestIntroduceAssignsDefaultNameAndGreets(t *testing.T) {
	srv, clk := newTestServer(t)
	sess := srv.addSession(nil)

	srv.handleRequest(sess, "INTRODUCE")

	assert.Equal(t, "Anonymous_1", sess.Name())
	lines := drainLines(sess)
	require.Len(t, lines, 1)
	assert.Equal(t, stamp(clk)+" Anonymous_1, Welcome to Test Server", lines[0])
}

func TestIntroduceWithValidNameRenamesSilently(t *testing.T) {
	srv, clk := newTestServer(t)
	sess := srv.addSession(nil)

	srv.handleRequest(sess, "INTRODUCE alice")

	assert.Equal(t, "alice", sess.Name())
	lines := drainLines(sess)
	require.Len(t, lines, 1)
	assert.Equal(t, stamp(clk)+" alice, Welcome to Test Server", lines[0])
}

func TestIntroduceBroadcastsJoinToOthersOnly(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	drainLines(a)

	b := srv.addSession(nil)
	srv.handleRequest(b, "INTRODUCE bob")

	assert.Equal(t, []string{stamp(clk) + " bob joined chat"}, drainLines(a))
	// bob himself gets only the greeting, no join broadcast.
	bLines := drainLines(b)
	require.Len(t, bLines, 1)
	assert.Contains(t, bLines[0], "bob, Welcome to Test Server")
}

func TestIntroduceInvalidNameSilentlyKeepsDefault(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := srv.addSession(nil)

	// Name with a space is invalid; the client is not told.
	srv.handleRequest(sess, "INTRODUCE bad name")

	assert.Equal(t, "Anonymous_1", sess.Name())
	lines := drainLines(sess)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Anonymous_1, Welcome to Test Server")
}

func TestIntroduceReplaysRoomHistoryWithOriginalTimestamps(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	drainLines(a)

	sendStamp := stamp(clk)
	srv.handleRequest(a, "SEND hello")
	drainLines(a)

	clk.advance(2 * time.Second)
	c := srv.addSession(nil)
	srv.handleRequest(c, "INTRODUCE")

	lines := drainLines(c)
	require.Len(t, lines, 2)
	// Replay carries the original timestamp, not the join time.
	assert.Equal(t, sendStamp+" alice: hello", lines[0])
	assert.Contains(t, lines[1], "Welcome to Test Server")
}

func TestRenameBroadcastsAndConfirms(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	b := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	srv.handleRequest(b, "INTRODUCE bob")
	drainLines(a)
	drainLines(b)

	srv.handleRequest(a, "RENAME alicia")

	assert.Equal(t, "alicia", a.Name())
	assert.Equal(t, []string{stamp(clk) + " Your name was changed to alicia"}, drainLines(a))
	assert.Equal(t, []string{stamp(clk) + " alice changed name to alicia"}, drainLines(b))
}

func TestRenameCollisionRejected(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	b := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	srv.handleRequest(b, "INTRODUCE bob")
	drainLines(a)
	drainLines(b)

	srv.handleRequest(a, "RENAME bob")

	assert.Equal(t, "alice", a.Name())
	assert.Equal(t, []string{stamp(clk) + " Already have user with that name"}, drainLines(a))
	assert.Empty(t, drainLines(b))
}

func TestRenameValidationMessages(t *testing.T) {
	srv, _ := newTestServer(t)
	a := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	drainLines(a)

	srv.handleRequest(a, "RENAME")
	lines := drainLines(a)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Empty names are restricted")
	assert.Equal(t, "alice", a.Name())
}

func TestUsersListInJoinOrder(t *testing.T) {
	srv, _ := newTestServer(t)
	a := srv.addSession(nil)
	b := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	srv.handleRequest(b, "INTRODUCE bob")
	drainLines(a)
	drainLines(b)

	srv.handleRequest(a, "USERS")

	assert.Equal(t, []string{"*** USERS ***\nalice\nbob\n"}, drainLines(a))
}

func TestHistoryEmptyBlock(t *testing.T) {
	srv, _ := newTestServer(t)
	a := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	drainLines(a)

	srv.handleRequest(a, "HISTORY")

	assert.Equal(t, []string{"*** HISTORY ***\nEMPTY\n"}, drainLines(a))
}

func TestSendBroadcastReachesEveryoneAndHistories(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	b := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	srv.handleRequest(b, "INTRODUCE bob")
	drainLines(a)
	drainLines(b)

	srv.handleRequest(a, "SEND hello world")

	want := stamp(clk) + " alice: hello world"
	assert.Equal(t, []string{want}, drainLines(a))
	assert.Equal(t, []string{want}, drainLines(b))
	assert.Equal(t, []string{want}, srv.roomHistory.Snapshot())
	assert.Equal(t, []string{want}, a.history.Snapshot())
	assert.Equal(t, []string{want}, b.history.Snapshot())
}

func TestSendEmptyMessageRestricted(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	drainLines(a)

	srv.handleRequest(a, "SEND")

	assert.Equal(t, []string{stamp(clk) + " Empty messages are restricted"}, drainLines(a))
	assert.Empty(t, srv.roomHistory.Snapshot())
}

func TestWhisperVisibleToBothOnlyAndSkipsRoomHistory(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	b := srv.addSession(nil)
	c := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	srv.handleRequest(b, "INTRODUCE bob")
	srv.handleRequest(c, "INTRODUCE carol")
	drainLines(a)
	drainLines(b)
	drainLines(c)

	srv.handleRequest(a, "SEND -r bob ping")

	want := stamp(clk) + " alice->bob: ping"
	assert.Equal(t, []string{want}, drainLines(a))
	assert.Equal(t, []string{want}, drainLines(b))
	assert.Empty(t, drainLines(c))

	// Not in room history: a later joiner must not see it.
	assert.Empty(t, srv.roomHistory.Snapshot())
	assert.Equal(t, []string{want}, a.history.Snapshot())
	assert.Equal(t, []string{want}, b.history.Snapshot())

	d := srv.addSession(nil)
	srv.handleRequest(d, "INTRODUCE dave")
	dLines := drainLines(d)
	require.Len(t, dLines, 1)
	assert.Contains(t, dLines[0], "Welcome to Test Server")
}

func TestWhisperToUnknownRecipient(t *testing.T) {
	srv, _ := newTestServer(t)
	a := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	drainLines(a)

	srv.handleRequest(a, "SEND -r ghost hi")

	// Reply carries no timestamp.
	assert.Equal(t, []string{"There is not user with name ghost"}, drainLines(a))
}

func TestSpamThrottleRejectsOverLimit(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	b := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	srv.handleRequest(b, "INTRODUCE bob")
	drainLines(a)
	drainLines(b)

	// Limit is 2 per 10s window.
	srv.handleRequest(a, "SEND one")
	srv.handleRequest(a, "SEND two")
	srv.handleRequest(a, "SEND three")

	windowEnd := clk.now.Add(10 * time.Second)
	aLines := drainLines(a)
	require.Len(t, aLines, 3)
	assert.Equal(t, stamp(clk)+" You are spamming to much. Wait until "+timeString(windowEnd), aLines[2])

	// Bob only ever sees the first two.
	assert.Len(t, drainLines(b), 2)
	assert.Len(t, srv.roomHistory.Snapshot(), 2)
}

func TestSpamRejectedMessageStillCounts(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	drainLines(a)

	srv.handleRequest(a, "SEND one")
	srv.handleRequest(a, "SEND two")
	srv.handleRequest(a, "SEND three")
	drainLines(a)

	// Still inside the window: the rejected message burned quota, so the
	// next one is rejected as well.
	clk.advance(5 * time.Second)
	srv.handleRequest(a, "SEND four")
	lines := drainLines(a)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "You are spamming to much")

	// Past the window the counter resets.
	clk.advance(6 * time.Second)
	srv.handleRequest(a, "SEND five")
	lines = drainLines(a)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "alice: five")
}

func TestDelayedSendSchedulesAndCancelUnwinds(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	drainLines(a)

	srv.handleRequest(a, "SEND -d 5 later")

	require.Len(t, a.delayTokens, 1)
	token := a.delayTokens[0]
	assert.True(t, token.IsActive())
	assert.Equal(t, []string{stamp(clk) + " Your message will be send after 5 seconds"}, drainLines(a))

	srv.handleRequest(a, "CANCEL")

	assert.Empty(t, a.delayTokens)
	assert.True(t, token.IsCancelled())
	assert.Equal(t, []string{stamp(clk) + " You last delayed message was removed"}, drainLines(a))
}

func TestCancelIsLIFO(t *testing.T) {
	srv, _ := newTestServer(t)
	a := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	drainLines(a)

	srv.handleRequest(a, "SEND -d 60 first")
	srv.handleRequest(a, "SEND -d 60 second")
	require.Len(t, a.delayTokens, 2)
	first, second := a.delayTokens[0], a.delayTokens[1]
	drainLines(a)

	srv.handleRequest(a, "CANCEL")

	assert.True(t, second.IsCancelled())
	assert.True(t, first.IsActive())
	require.Len(t, a.delayTokens, 1)
	assert.Same(t, first, a.delayTokens[0])
}

func TestCancelWithNoDelayedMessages(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	drainLines(a)

	srv.handleRequest(a, "CANCEL")

	assert.Equal(t, []string{stamp(clk) + " You have no delayed messages"}, drainLines(a))
}

func TestReportProgressionToBan(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	b := srv.addSession(nil)
	c := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	srv.handleRequest(b, "INTRODUCE bob")
	srv.handleRequest(c, "INTRODUCE carol")
	drainLines(a)
	drainLines(b)
	drainLines(c)

	srv.handleRequest(b, "REPORT alice")
	assert.Equal(t,
		[]string{stamp(clk) + " User alice was reported by bob. Reports count: 1"},
		drainLines(c))
	drainLines(a)
	drainLines(b)

	srv.handleRequest(c, "REPORT alice")

	banUntil := clk.now.Add(600 * time.Second)
	bLines := drainLines(b)
	require.Len(t, bLines, 2)
	assert.Equal(t, stamp(clk)+" User alice was reported by carol. Reports count: 2", bLines[0])
	assert.Equal(t, stamp(clk)+" User alice was banned until "+timeString(banUntil), bLines[1])

	// Reporters reset when the ban lands.
	assert.Empty(t, a.reporters)
	assert.True(t, a.isBanned(clk.now))

	// Banned sender cannot send.
	drainLines(a)
	srv.handleRequest(a, "SEND hi")
	aLines := drainLines(a)
	require.Len(t, aLines, 1)
	assert.Equal(t, stamp(clk)+" You are banned till "+timeString(banUntil), aLines[0])
}

func TestReportEdgeCases(t *testing.T) {
	srv, _ := newTestServer(t)
	a := srv.addSession(nil)
	b := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	srv.handleRequest(b, "INTRODUCE bob")
	drainLines(a)
	drainLines(b)

	srv.handleRequest(a, "REPORT ghost")
	assert.Equal(t, []string{"There is not user with name ghost"}, drainLines(a))

	srv.handleRequest(a, "REPORT alice")
	assert.Equal(t, []string{"You can't report yourself"}, drainLines(a))

	srv.handleRequest(a, "REPORT bob")
	drainLines(a)
	drainLines(b)
	srv.handleRequest(a, "REPORT bob")
	assert.Equal(t, []string{"bob was already reported by you"}, drainLines(a))
}

func TestReportAlreadyBanned(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	b := srv.addSession(nil)
	c := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	srv.handleRequest(b, "INTRODUCE bob")
	srv.handleRequest(c, "INTRODUCE carol")

	a.banUntil = clk.now.Add(time.Minute)
	drainLines(b)

	srv.handleRequest(b, "REPORT alice")
	assert.Equal(t, []string{"alice is already banned"}, drainLines(b))
}

func TestBanExpires(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	a.banUntil = clk.now.Add(time.Minute)
	drainLines(a)

	clk.advance(2 * time.Minute)
	srv.handleRequest(a, "SEND back")

	lines := drainLines(a)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "alice: back")
}

func TestPersonalHistoryBounded(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	drainLines(a)

	// History capacity is 3. The spam window would reject the later sends,
	// so advance the clock past it between messages.
	firstStamp := stamp(clk)
	for _, msg := range []string{"one", "two", "three", "four", "five"} {
		srv.handleRequest(a, "SEND "+msg)
		clk.advance(11 * time.Second)
	}

	assert.Equal(t, 3, a.history.Len())
	assert.Equal(t, 3, srv.roomHistory.Len())
	assert.NotContains(t, srv.roomHistory.Snapshot(), firstStamp+" alice: one")
}

func TestLeaveCancelsTokensAndAnnounces(t *testing.T) {
	srv, clk := newTestServer(t)
	a := srv.addSession(nil)
	b := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	srv.handleRequest(b, "INTRODUCE bob")
	srv.handleRequest(a, "SEND -d 60 later")
	require.Len(t, a.delayTokens, 1)
	token := a.delayTokens[0]
	drainLines(b)

	srv.leave(a)

	assert.True(t, token.IsCancelled())
	assert.Equal(t, []string{stamp(clk) + " alice left the chat"}, drainLines(b))
	assert.Len(t, srv.users, 1)

	// Invariant: no writes after removal.
	assert.False(t, a.queueLine("late line"))
}

func TestLeaveRemovesReporterGhosts(t *testing.T) {
	srv, _ := newTestServer(t)
	a := srv.addSession(nil)
	b := srv.addSession(nil)
	c := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")
	srv.handleRequest(b, "INTRODUCE bob")
	srv.handleRequest(c, "INTRODUCE carol")

	srv.handleRequest(b, "REPORT alice")
	require.Len(t, a.reporters, 1)

	// The departing reporter must not keep counting toward a ban.
	srv.leave(b)
	assert.Empty(t, a.reporters)
}

func TestLeaveIsIdempotent(t *testing.T) {
	srv, _ := newTestServer(t)
	a := srv.addSession(nil)
	srv.handleRequest(a, "INTRODUCE alice")

	srv.leave(a)
	srv.leave(a)
	assert.Empty(t, srv.users)
}
