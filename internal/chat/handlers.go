package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/adred-codev/linechat/internal/cancel"
	"github.com/adred-codev/linechat/internal/monitoring"
)

// introduce runs once right after accept. A valid requested name is applied
// silently (no rename broadcast); an invalid one silently keeps the minted
// default, without telling the client. Then the room history is replayed
// (timestamps carried from the original sends, no new prefix), the join is
// announced to everyone else, and the joiner is greeted.
func (s *Server) introduce(sender *Session, requested string) {
	if _, errMsg := s.checkName(requested); errMsg == "" {
		s.rename(sender, requested, true)
	}

	for _, line := range s.roomHistory.Snapshot() {
		s.deliver(sender, line, false, false)
	}

	s.broadcast(sender.name+" joined chat", sender, false)
	s.deliver(sender, fmt.Sprintf("%s, %s", sender.name, s.cfg.GreetingMessage), false, true)
}

// rename validates and applies a name change. In silent mode (INTRODUCE)
// neither failures nor success produce any output.
func (s *Server) rename(sender *Session, requested string, silent bool) {
	name, errMsg := s.checkName(requested)
	if errMsg != "" {
		if !silent {
			s.deliver(sender, errMsg, false, true)
		}
		return
	}

	if !silent {
		s.broadcast(fmt.Sprintf("%s changed name to %s", sender.name, name), sender, false)
		s.deliver(sender, "Your name was changed to "+name, false, true)
	}

	sender.name = name
}

// listUsers sends the roster as a system block, in join order.
func (s *Server) listUsers(sender *Session) {
	names := make([]string, len(s.users))
	for i, u := range s.users {
		names[i] = u.name
	}
	s.sendSystemBlock(sender, "USERS", names)
}

// showHistory sends the sender's personal history as a system block. The
// entries were recorded with their original timestamps.
func (s *Server) showHistory(sender *Session) {
	s.sendSystemBlock(sender, "HISTORY", sender.history.Snapshot())
}

// sendChat implements SEND: ban gate, delay scheduling, empty-message and
// spam gates, then broadcast or whisper.
func (s *Server) sendChat(sender *Session, message, recipient string, delaySeconds int) {
	if sender.isBanned(s.now()) {
		s.deliver(sender, "You are banned till "+timeString(sender.banUntil), false, true)
		return
	}

	if delaySeconds > 0 {
		s.scheduleDelayedSend(sender, message, recipient, delaySeconds)
		return
	}

	if message == "" {
		s.deliver(sender, "Empty messages are restricted", false, true)
		return
	}

	if sender.countMessageAndCheckSpam(s.now(), s.cfg.SpamMessageLimit, s.cfg.SpamPeriod) {
		monitoring.IncrementSpamRejections()
		s.deliver(sender, "You are spamming to much. Wait until "+timeString(sender.spamWindowEnd), false, true)
		return
	}

	if recipient == "" {
		full := s.broadcast(sender.name+": "+message, nil, true)
		s.roomHistory.Add(full)
		monitoring.IncrementBroadcasts()
		return
	}

	target := s.userByName(recipient)
	if target == nil {
		s.deliver(sender, "There is not user with name "+recipient, false, false)
		return
	}

	// Whisper: both parties see and record the line; room history is
	// untouched, so later joiners never see it.
	whisper := fmt.Sprintf("%s->%s: %s", sender.name, target.name, message)
	full := timeString(s.now()) + " " + whisper
	for _, u := range []*Session{sender, target} {
		u.history.Add(full)
		if !u.queueLine(full) {
			monitoring.IncrementDroppedWrites()
		}
	}
	monitoring.IncrementWhispers()
}

// scheduleDelayedSend queues a cancellable one-shot timer that re-enters
// sendChat with delay 0. The timer callback hops back onto the hub before
// touching any state; only the token itself is shared with the timer
// goroutine.
func (s *Server) scheduleDelayedSend(sender *Session, message, recipient string, delaySeconds int) {
	token := cancel.New()
	sender.pushDelayToken(token)
	monitoring.IncrementDelayedScheduled()

	s.deliver(sender, fmt.Sprintf("Your message will be send after %d seconds", delaySeconds), false, true)

	timer := time.AfterFunc(time.Duration(delaySeconds)*time.Second, func() {
		s.do(func() {
			// The token may have been popped by CANCEL or cancelled by
			// teardown in the meantime; removal is a no-op then.
			sender.removeDelayToken(token)
			if token.IsActive() {
				token.Complete()
				s.sendChat(sender, message, recipient, 0)
			}
		})
	})
	// A cancelled send does not need its timer anymore. Registered on the
	// hub before any CANCEL can run, so no races with the state machine.
	token.OnCancel(func() {
		timer.Stop()
	})
}

// cancelDelayed pops and cancels the most recent pending delayed send.
// There is no way to target an earlier one.
func (s *Server) cancelDelayed(sender *Session) {
	token := sender.popDelayToken()
	if token == nil {
		s.deliver(sender, "You have no delayed messages", false, true)
		return
	}

	token.Cancel()
	monitoring.IncrementDelayedCancelled()
	s.deliver(sender, "You last delayed message was removed", false, true)
}

// report registers one user's report against another and applies a ban
// when the configured threshold is reached.
func (s *Server) report(sender *Session, targetName string) {
	target := s.userByName(targetName)

	switch {
	case target == nil:
		s.deliver(sender, "There is not user with name "+targetName, false, false)
	case target == sender:
		s.deliver(sender, "You can't report yourself", false, false)
	case target.reportedBy(sender):
		s.deliver(sender, targetName+" was already reported by you", false, false)
	case target.isBanned(s.now()):
		s.deliver(sender, targetName+" is already banned", false, false)
	default:
		target.reporters[sender] = struct{}{}
		monitoring.IncrementReports()
		s.broadcast(fmt.Sprintf("User %s was reported by %s. Reports count: %d",
			targetName, sender.name, len(target.reporters)), nil, false)

		if len(target.reporters) >= s.cfg.ReportsForBan {
			s.ban(target)
		}
	}
}

// ban clears the target's reporters and suppresses its sends for the
// configured duration.
func (s *Server) ban(target *Session) {
	for reporter := range target.reporters {
		delete(target.reporters, reporter)
	}
	target.banUntil = s.now().Add(s.cfg.BanDuration)
	monitoring.IncrementBans()

	s.broadcast(fmt.Sprintf("User %s was banned until %s", target.name, timeString(target.banUntil)), nil, false)
}

// checkName validates a display name against the live roster. Returns the
// trimmed name and, on failure, the exact reply line for the sender.
func (s *Server) checkName(name string) (string, string) {
	name = strings.TrimSpace(name)

	if name == "" {
		return name, "Empty names are restricted"
	}
	if strings.Contains(name, " ") {
		return name, "Empty spaces are restricted in names"
	}
	for _, u := range s.users {
		if u.name == name {
			return name, "Already have user with that name"
		}
	}

	return name, ""
}

// sendSystemBlock sends a multi-line block of the form:
//
//	*** <NAME> ***
//	<item>
//	…
//
// or the single body line EMPTY. Blocks are sent without a timestamp.
func (s *Server) sendSystemBlock(sender *Session, blockName string, items []string) {
	var b strings.Builder
	fmt.Fprintf(&b, "*** %s ***\n", blockName)
	if len(items) == 0 {
		b.WriteString("EMPTY\n")
	} else {
		for _, item := range items {
			b.WriteString(item)
			b.WriteString("\n")
		}
	}
	s.deliver(sender, b.String(), false, false)
}
