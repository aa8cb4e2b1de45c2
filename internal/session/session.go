// Package session implements the per-channel command state machine.
//
// Each inbound channel carries at most one exec-style command. The session
// validates the channel type, accumulates env requests, dispatches the
// single exec request to the registered handler exactly once, and treats
// everything else, including any inbound channel data, as a protocol
// violation that tears the channel down.
package session

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"
)

// ErrInvalidChannelType reports a channel or request asking for anything
// other than plain command execution (a shell, a pty, a subsystem).
var ErrInvalidChannelType = errors.New("session: invalid channel type")

// ErrInvalidDataType reports data on an active command channel outside the
// expected env/exec sequence, attempted interactive input included.
var ErrInvalidDataType = errors.New("session: unexpected data on command channel")

type state int

const (
	stateCreated state = iota
	stateTypeValidated
	stateEnvCollecting
	stateExecuted
	stateClosed
)

// Wire payloads of the channel requests we service (RFC 4254 §6.4, §6.5).
type envRequest struct {
	Name  string
	Value string
}

type execRequest struct {
	Command string
}

// Session owns exactly one channel. Only the goroutine servicing the
// channel mutates it.
type Session struct {
	user    Identity
	handler Handler
	logger  *log.Logger
	state   state
	env     map[string]string
}

func newSession(user Identity, handler Handler, logger *log.Logger) *Session {
	return &Session{
		user:    user,
		handler: handler,
		logger:  logger,
		state:   stateCreated,
		env:     make(map[string]string),
	}
}

// Serve classifies and services one inbound channel. It returns once the
// channel is closed; the returned error is nil for a completed command,
// ErrInvalidChannelType or ErrInvalidDataType for protocol violations.
func Serve(nch ssh.NewChannel, user Identity, handler Handler, logger *log.Logger) error {
	if nch.ChannelType() != "session" {
		nch.Reject(ssh.UnknownChannelType, "only command execution channels are accepted")
		return fmt.Errorf("%w: %q", ErrInvalidChannelType, nch.ChannelType())
	}
	ch, reqs, err := nch.Accept()
	if err != nil {
		return fmt.Errorf("session: accept channel: %w", err)
	}
	s := newSession(user, handler, logger)
	s.state = stateTypeValidated
	return s.run(ch, reqs)
}

// run drives the state machine until the channel closes. Requests are
// serviced in order; a watcher goroutine flags any inbound channel data as
// a violation.
func (s *Session) run(ch ssh.Channel, reqs <-chan *ssh.Request) error {
	defer s.close(ch)
	violation := make(chan struct{})
	go watchInput(ch, violation)

	s.state = stateEnvCollecting
	for {
		select {
		case <-violation:
			return s.destroy(ch, fmt.Errorf("%w: interactive input", ErrInvalidDataType))
		case req, ok := <-reqs:
			if !ok {
				// Peer closed before sending an exec request.
				return nil
			}
			done, err := s.handle(ch, req)
			switch {
			case errors.Is(err, ErrInvalidDataType):
				return s.destroy(ch, err)
			case err != nil:
				return err
			}
			if done {
				// Anything the peer sent while the command ran is a
				// violation; otherwise the channel closes normally.
				select {
				case <-violation:
					return s.destroy(ch, fmt.Errorf("%w: input after exec", ErrInvalidDataType))
				case req, ok := <-reqs:
					if ok {
						return s.destroy(ch, fmt.Errorf("%w: %q request after exec", ErrInvalidDataType, req.Type))
					}
				default:
				}
				return nil
			}
		}
	}
}

// handle services a single channel request. It reports done=true once the
// exec request has been dispatched.
func (s *Session) handle(ch ssh.Channel, req *ssh.Request) (bool, error) {
	switch req.Type {
	case "env":
		var msg envRequest
		if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
			return false, fmt.Errorf("%w: malformed env request", ErrInvalidDataType)
		}
		// Last write per key wins.
		s.env[msg.Name] = msg.Value
		if req.WantReply {
			req.Reply(true, nil)
		}
		return false, nil

	case "exec":
		var msg execRequest
		if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
			return false, fmt.Errorf("%w: malformed exec request", ErrInvalidDataType)
		}
		// Acknowledge before running so the peer starts reading output.
		if req.WantReply {
			req.Reply(true, nil)
		}
		s.exec(ch, msg.Command)
		return true, nil

	case "shell", "pty-req", "subsystem":
		if req.WantReply {
			req.Reply(false, nil)
		}
		return false, fmt.Errorf("%w: %q request", ErrInvalidChannelType, req.Type)

	default:
		return false, fmt.Errorf("%w: %q request", ErrInvalidDataType, req.Type)
	}
}

// exec freezes the environment and invokes the handler. The state machine
// guarantees this runs at most once per session.
func (s *Session) exec(ch ssh.Channel, text string) {
	s.state = stateExecuted
	env := make(map[string]string, len(s.env))
	for k, v := range s.env {
		env[k] = v
	}
	cmd := Command{Text: text, User: s.user, Env: env}
	s.logger.Info("executing command", "user", s.user, "command", text)
	if err := s.handler(cmd, ch); err != nil {
		s.logger.Warn("command handler failed", "user", s.user, "error", err)
		fmt.Fprintf(ch.Stderr(), "error: %v\n", err)
	}
}

// destroy tears the channel down without further response.
func (s *Session) destroy(ch ssh.Channel, cause error) error {
	s.logger.Warn("destroying command channel", "user", s.user, "error", cause)
	s.close(ch)
	return cause
}

func (s *Session) close(ch ssh.Channel) {
	if s.state == stateClosed {
		return
	}
	s.state = stateClosed
	ch.Close()
}

// watchInput flags inbound channel data. The command channel is
// non-interactive: the peer has nothing legitimate to write, so a single
// byte is a violation. EOF is a normal close.
func watchInput(ch ssh.Channel, violation chan<- struct{}) {
	buf := make([]byte, 256)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			close(violation)
			return
		}
		if err != nil {
			return
		}
	}
}
