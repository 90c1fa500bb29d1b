// Package transport owns the agent subprocess: launching it, framing
// newline-delimited JSON over its stdio, and shutting it down. One transport
// serves one session; switching providers means closing the old transport
// and starting a new one.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cameron-labs/camcode/internal/config"
	"github.com/cameron-labs/camcode/internal/protocol"
)

// LaunchError means the subprocess could not start. It is fatal to the
// session; no retry is attempted.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching agent %q: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// TransportClosedError means an operation was attempted after shutdown.
type TransportClosedError struct {
	Op string
}

func (e *TransportClosedError) Error() string {
	return fmt.Sprintf("transport is closed: %s", e.Op)
}

// ProtocolError reports one malformed line. The stream continues past it.
type ProtocolError struct {
	Line []byte
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed agent message: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Event is one item from the subprocess's output stream. Exactly one of
// Envelope or Err is meaningful: a decode failure carries a ProtocolError
// and a nil envelope.
type Event struct {
	Envelope protocol.Envelope
	Err      error
}

// ControlHandler receives intercepted control requests (permission checks,
// hook callbacks, MCP traffic). It runs on its own goroutine so a slow
// decision never stalls the read loop; it replies via Send.
type ControlHandler func(ctx context.Context, req protocol.ControlRequest)

// maxLineSize bounds a single protocol line. Tool results with embedded
// file contents can run large.
const maxLineSize = 32 * 1024 * 1024

// launchGrace is how long Start watches a fresh subprocess for an immediate
// exit before handing it to the caller as live.
const launchGrace = 200 * time.Millisecond

type outbound struct {
	line []byte
	ack  chan struct{}
}

// Transport is a live subprocess connection.
type Transport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	events chan Event
	sendQ  chan outbound

	handler ControlHandler

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	exitOnce   sync.Once
	exited     chan struct{}
	exitErr    error
	readDone   chan struct{}
	stderrDone chan struct{}

	firstOnce sync.Once
	firstRead chan struct{}

	closeTimeout time.Duration

	stderrMu   sync.Mutex
	stderrTail []string
}

// Options tune transport behavior beyond what the session config carries.
type Options struct {
	// ControlHandler intercepts control requests. Nil passes them through
	// to Events like any other message.
	ControlHandler ControlHandler
	// CloseTimeout bounds the graceful-shutdown wait before the process
	// is killed. Zero uses the session config's close timeout.
	CloseTimeout time.Duration
}

// Start launches the agent subprocess described by cfg with extraEnv
// appended to the inherited environment. The returned transport is live:
// its read loop is already consuming stdout.
func Start(ctx context.Context, cfg config.Session, extraEnv []string, opts Options) (*Transport, error) {
	path, err := exec.LookPath(cfg.AgentCmd)
	if err != nil {
		return nil, &LaunchError{Command: cfg.AgentCmd, Err: err}
	}

	args := buildArgs(cfg)
	cmd := exec.Command(path, args...)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	cmd.Env = append(os.Environ(), extraEnv...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &LaunchError{Command: cfg.AgentCmd, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Command: cfg.AgentCmd, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &LaunchError{Command: cfg.AgentCmd, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Command: cfg.AgentCmd, Err: err}
	}

	closeTimeout := opts.CloseTimeout
	if closeTimeout == 0 {
		closeTimeout = time.Duration(cfg.CloseTimeoutSeconds) * time.Second
	}
	if closeTimeout == 0 {
		closeTimeout = 5 * time.Second
	}

	tctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(tctx)

	t := &Transport{
		cmd:          cmd,
		stdin:        stdin,
		events:       make(chan Event, 64),
		sendQ:        make(chan outbound, 64),
		handler:      opts.ControlHandler,
		group:        group,
		ctx:          gctx,
		cancel:       cancel,
		exited:       make(chan struct{}),
		readDone:     make(chan struct{}),
		stderrDone:   make(chan struct{}),
		firstRead:    make(chan struct{}),
		closeTimeout: closeTimeout,
	}

	group.Go(func() error { return t.readLoop(stdout) })
	group.Go(func() error { return t.writeLoop() })
	group.Go(func() error { return t.stderrLoop(stderr) })
	group.Go(func() error { return t.waitLoop() })

	if err := t.awaitLaunch(); err != nil {
		return nil, &LaunchError{Command: cfg.AgentCmd, Err: err}
	}

	return t, nil
}

// awaitLaunch distinguishes a live subprocess from one that died on
// startup. A process that produced at least one protocol line launched
// fine even if it has since exited; one that exited without output is a
// launch failure. Slow starters pass after the grace window and any later
// exit surfaces through the event stream.
func (t *Transport) awaitLaunch() error {
	select {
	case <-t.firstRead:
		return nil
	case <-t.exited:
		// exited closes only after the read loop has drained stdout, so
		// firstRead is authoritative here.
		select {
		case <-t.firstRead:
			return nil
		default:
		}
		err := t.exitErr
		if err == nil {
			err = fmt.Errorf("agent exited immediately without output")
		}
		if tail := t.StderrTail(); len(tail) > 0 {
			err = fmt.Errorf("%w: %s", err, tail[len(tail)-1])
		}
		return err
	case <-time.After(launchGrace):
		return nil
	}
}

// buildArgs assembles the agent CLI flags for a bidirectional stream-json
// session.
func buildArgs(cfg config.Session) []string {
	args := append([]string{}, cfg.AgentArgs...)
	args = append(args,
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	)
	if cfg.PermissionMode != "" {
		args = append(args, "--permission-mode", cfg.PermissionMode)
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(cfg.MaxTurns))
	}
	if len(cfg.SettingSources) > 0 {
		args = append(args, "--setting-sources", strings.Join(cfg.SettingSources, ","))
	}
	if len(cfg.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(cfg.AllowedTools, ","))
	}
	return args
}

// Events returns the inbound message stream. Events are surfaced in the
// order the subprocess emitted them; the channel closes when the stream
// ends.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// Send queues a message for the subprocess. Messages are delivered in Send
// call order. Send fails with TransportClosedError after Close or after the
// subprocess exits.
func (t *Transport) Send(msg any) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding outbound message: %w", err)
	}
	return t.enqueue(outbound{line: line})
}

func (t *Transport) enqueue(out outbound) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &TransportClosedError{Op: "send"}
	}
	t.mu.Unlock()

	// The select below would race the free queue slot against the closed
	// exited channel; check exit first so Send fails deterministically once
	// the subprocess is gone.
	select {
	case <-t.exited:
		return &TransportClosedError{Op: "send"}
	default:
	}

	select {
	case t.sendQ <- out:
		return nil
	case <-t.exited:
		return &TransportClosedError{Op: "send"}
	case <-t.ctx.Done():
		return &TransportClosedError{Op: "send"}
	}
}

// Flush blocks until every message queued before the call has been written
// to the subprocess. Used when draining a session before a provider switch.
func (t *Transport) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	if err := t.enqueue(outbound{ack: ack}); err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.exited:
		return &TransportClosedError{Op: "flush"}
	}
}

// Done is closed when the subprocess has exited for any reason.
func (t *Transport) Done() <-chan struct{} {
	return t.exited
}

// ExitError reports how the subprocess ended. Valid after Done is closed.
func (t *Transport) ExitError() error {
	<-t.exited
	return t.exitErr
}

// StderrTail returns the last captured stderr lines for diagnostics.
func (t *Transport) StderrTail() []string {
	t.stderrMu.Lock()
	defer t.stderrMu.Unlock()
	return append([]string(nil), t.stderrTail...)
}

// Close shuts the transport down: stdin is closed so the subprocess can
// finish cleanly, then after the close timeout it is killed. Close is
// idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		<-t.exited
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	_ = t.stdin.Close()

	select {
	case <-t.exited:
	case <-time.After(t.closeTimeout):
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		<-t.exited
	}
	return nil
}

func (t *Transport) readLoop(stdout io.Reader) error {
	defer close(t.events)
	defer close(t.readDone)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		envelope, err := protocol.Decode(line)
		if err != nil {
			t.emit(Event{Err: &ProtocolError{Line: append([]byte(nil), line...), Err: err}})
			continue
		}
		t.firstOnce.Do(func() { close(t.firstRead) })

		if envelope.Type == protocol.TypeControlRequest && t.handler != nil {
			var req protocol.ControlRequest
			if err := json.Unmarshal(envelope.Raw, &req); err != nil {
				t.emit(Event{Err: &ProtocolError{Line: append([]byte(nil), envelope.Raw...), Err: err}})
				continue
			}
			// Control decisions may block on hooks or a user prompt;
			// they must not stall the read loop.
			go t.handler(t.ctx, req)
			continue
		}

		t.emit(Event{Envelope: envelope})
	}
	return scanner.Err()
}

func (t *Transport) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.ctx.Done():
	}
}

func (t *Transport) writeLoop() error {
	for {
		select {
		case out := <-t.sendQ:
			if out.ack != nil {
				close(out.ack)
				continue
			}
			if _, err := t.stdin.Write(append(out.line, '\n')); err != nil {
				return fmt.Errorf("writing to agent stdin: %w", err)
			}
		case <-t.ctx.Done():
			return nil
		}
	}
}

// stderrLoop keeps a bounded tail of the subprocess's stderr so launch and
// crash diagnostics survive the process.
func (t *Transport) stderrLoop(stderr io.Reader) error {
	defer close(t.stderrDone)
	const tailLines = 50
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		t.stderrMu.Lock()
		t.stderrTail = append(t.stderrTail, scanner.Text())
		if len(t.stderrTail) > tailLines {
			t.stderrTail = t.stderrTail[len(t.stderrTail)-tailLines:]
		}
		t.stderrMu.Unlock()
	}
	return nil
}

// waitLoop reaps the subprocess. It waits for both pipe readers first:
// Wait closes the stdio pipes on exit, which would drop any buffered
// output still in flight.
func (t *Transport) waitLoop() error {
	<-t.readDone
	<-t.stderrDone
	err := t.cmd.Wait()
	t.exitOnce.Do(func() {
		t.exitErr = err
		close(t.exited)
	})
	// A dead subprocess closes the transport for senders even when nobody
	// calls Close.
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cancel()
	return nil
}
