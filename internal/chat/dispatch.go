package chat

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/adred-codev/linechat/internal/monitoring"
)

// internalServerError is the literal line sent to the originator when a
// handler fails unexpectedly. The connection stays open.
const internalServerError = "Internal Server Error"

// handleRequest parses one inbound request and invokes the handler.
// Hub-only. Empty requests and unknown verbs are ignored (the client
// filters unknown verbs locally). Handler panics and argument errors are
// contained here: the sender gets an Internal Server Error line and the
// incident is logged.
func (s *Server) handleRequest(sender *Session, request string) {
	fields := strings.Fields(request)
	if len(fields) == 0 {
		return
	}

	verb := strings.ToUpper(fields[0])
	args := fields[1:]

	s.logger.Info().
		Str("peer", sender.peer).
		Str("user", sender.name).
		Str("verb", verb).
		Str("request", strings.TrimSpace(request)).
		Msg("Request")

	defer func() {
		if r := recover(); r != nil {
			monitoring.IncrementHandlerErrors()
			s.deliver(sender, internalServerError, false, true)
			s.logger.Warn().
				Str("peer", sender.peer).
				Str("user", sender.name).
				Str("request", request).
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("Handler panic recovered")
		}
	}()

	var err error
	switch verb {
	case "INTRODUCE":
		s.introduce(sender, strings.Join(args, " "))
	case "RENAME":
		s.rename(sender, strings.Join(args, " "), false)
	case "USERS":
		s.listUsers(sender)
	case "SEND":
		var opts sendOptions
		opts, err = parseSendArgs(args)
		if err == nil {
			s.sendChat(sender, opts.message, opts.recipient, opts.delay)
		}
	case "CANCEL":
		s.cancelDelayed(sender)
	case "HISTORY":
		s.showHistory(sender)
	case "REPORT":
		s.report(sender, strings.Join(args, " "))
	default:
		// Unknown verbs are silently ignored.
		return
	}
	monitoring.IncrementCommand(verb)

	if err != nil {
		monitoring.IncrementHandlerErrors()
		s.deliver(sender, internalServerError, false, true)
		s.logger.Warn().
			Str("peer", sender.peer).
			Str("user", sender.name).
			Str("request", request).
			Err(err).
			Msg("Error while handling request")
	}
}

// sendOptions carries the parsed SEND arguments.
type sendOptions struct {
	delay     int    // seconds; 0 = immediate
	recipient string // empty = broadcast
	message   string
}

// parseSendArgs scans SEND arguments for -d/--delay and -r/--recipient.
// Short options take their value separated (-d 5) or attached (-d5); long
// options separated (--delay 5) or with equals (--delay=5). Every
// unrecognized token, including unknown flags, folds back into the message
// body in its original order. A recognized flag with a missing or malformed
// value is an error (surfaced as Internal Server Error, matching the
// reference behavior).
func parseSendArgs(args []string) (sendOptions, error) {
	var opts sendOptions
	body := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-d" || arg == "--delay":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("flag %s requires a value", arg)
			}
			delay, err := strconv.Atoi(args[i])
			if err != nil {
				return opts, fmt.Errorf("invalid delay %q: %w", args[i], err)
			}
			opts.delay = delay

		case strings.HasPrefix(arg, "--delay="):
			value := strings.TrimPrefix(arg, "--delay=")
			delay, err := strconv.Atoi(value)
			if err != nil {
				return opts, fmt.Errorf("invalid delay %q: %w", value, err)
			}
			opts.delay = delay

		case strings.HasPrefix(arg, "-d") && len(arg) > len("-d"):
			value := strings.TrimPrefix(arg, "-d")
			delay, err := strconv.Atoi(value)
			if err != nil {
				return opts, fmt.Errorf("invalid delay %q: %w", value, err)
			}
			opts.delay = delay

		case arg == "-r" || arg == "--recipient":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("flag %s requires a value", arg)
			}
			opts.recipient = args[i]

		case strings.HasPrefix(arg, "--recipient="):
			opts.recipient = strings.TrimPrefix(arg, "--recipient=")

		case strings.HasPrefix(arg, "-r") && len(arg) > len("-r"):
			opts.recipient = strings.TrimPrefix(arg, "-r")

		default:
			body = append(body, arg)
		}
	}

	opts.message = strings.Join(body, " ")
	return opts, nil
}
