// Package dispatch runs exec commands for the channels of one connection.
//
// Every channel is registered when it is opened and owns a one-slot command
// queue. The first command queued on a channel starts that channel's
// worker, which runs exactly one command, streams the result back and
// closes the channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/acolita/fake-ssh/internal/command"
	"github.com/acolita/fake-ssh/internal/metrics"
)

var (
	// ErrUnknownChannel is returned for ids that were never opened.
	ErrUnknownChannel = errors.New("dispatch: unknown channel")

	// ErrChannelExists is returned when an id is opened twice.
	ErrChannelExists = errors.New("dispatch: channel already open")

	// ErrCommandPending is returned when a channel already holds a command.
	ErrCommandPending = errors.New("dispatch: channel already has a command")

	// ErrChannelClosed is returned for commands sent to a finished channel.
	ErrChannelClosed = errors.New("dispatch: channel closed")
)

// ID identifies a channel within one connection.
type ID uint32

// State is a channel's position in its lifecycle.
type State int

const (
	StateOpen State = iota
	StateArmed
	StateExecuting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateArmed:
		return "armed"
	case StateExecuting:
		return "executing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Channel is the transport side of an exec channel.
type Channel interface {
	Send(b []byte) error
	SendStderr(b []byte) error
	SendExitStatus(code int) error
	Close() error
}

type slot struct {
	id      ID
	ch      Channel
	queue   chan string
	state   State
	started bool
}

// Dispatcher is the channel registry of one connection.
type Dispatcher struct {
	ctx     context.Context
	handler command.Handler

	mu       sync.Mutex
	channels map[ID]*slot
	wg       sync.WaitGroup
}

// New returns a Dispatcher that runs commands through handler. ctx is
// handed to every handler call.
func New(ctx context.Context, handler command.Handler) *Dispatcher {
	return &Dispatcher{
		ctx:      ctx,
		handler:  handler,
		channels: make(map[ID]*slot),
	}
}

// Open registers ch under id.
func (d *Dispatcher) Open(id ID, ch Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.channels[id]; ok {
		return fmt.Errorf("open channel %d: %w", id, ErrChannelExists)
	}
	d.channels[id] = &slot{
		id:    id,
		ch:    ch,
		queue: make(chan string, 1),
		state: StateOpen,
	}
	return nil
}

// Exec queues cmd on channel id and starts its worker if none is running.
func (d *Dispatcher) Exec(id ID, cmd []byte) error {
	if err := d.Arm(id, cmd); err != nil {
		return err
	}
	d.Start(id)
	return nil
}

// Arm queues cmd on channel id without running it. The transport can then
// acknowledge the request before Start lets the worker write to the channel.
func (d *Dispatcher) Arm(id ID, cmd []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.channels[id]
	if !ok {
		return fmt.Errorf("exec on channel %d: %w", id, ErrUnknownChannel)
	}

	switch s.state {
	case StateArmed, StateExecuting:
		return fmt.Errorf("exec on channel %d: %w", id, ErrCommandPending)
	case StateClosed:
		return fmt.Errorf("exec on channel %d: %w", id, ErrChannelClosed)
	}

	select {
	case s.queue <- string(cmd):
	default:
		return fmt.Errorf("exec on channel %d: %w", id, ErrCommandPending)
	}
	s.state = StateArmed
	return nil
}

// Start runs the worker of channel id if it is armed and not yet running.
func (d *Dispatcher) Start(id ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.channels[id]
	if !ok || s.started || s.state != StateArmed {
		return
	}
	s.started = true
	d.wg.Add(1)
	go d.work(s)
}

// State returns the lifecycle state of channel id.
func (d *Dispatcher) State(id ID) (State, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.channels[id]
	if !ok {
		return 0, false
	}
	return s.state, true
}

// Release marks channel id closed when the transport ends it without a
// command, e.g. after an sftp session. A running worker is left alone.
func (d *Dispatcher) Release(id ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.channels[id]; ok && !s.started {
		s.state = StateClosed
	}
}

// Wait blocks until every started worker has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) setState(s *slot, state State) {
	d.mu.Lock()
	s.state = state
	d.mu.Unlock()
}

func (d *Dispatcher) work(s *slot) {
	defer d.wg.Done()
	defer d.closeChannel(s)

	cmd := <-s.queue
	d.setState(s, StateExecuting)
	slog.Debug("executing command",
		slog.Uint64("channel", uint64(s.id)),
		slog.String("command", cmd),
	)

	if err := d.run(s, cmd); err != nil {
		metrics.RecordCommandError()
		slog.Error("command failed",
			slog.Uint64("channel", uint64(s.id)),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) run(s *slot, cmd string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command handler panicked: %v", r)
		}
	}()

	res, err := d.handler.Handle(d.ctx, cmd)
	if err != nil {
		return fmt.Errorf("handle %q: %w", cmd, err)
	}
	if err := s.ch.Send([]byte(res.Stdout)); err != nil {
		return fmt.Errorf("send stdout: %w", err)
	}
	if err := s.ch.SendStderr([]byte(res.Stderr)); err != nil {
		return fmt.Errorf("send stderr: %w", err)
	}
	if err := s.ch.SendExitStatus(res.ExitCode); err != nil {
		return fmt.Errorf("send exit status: %w", err)
	}
	metrics.RecordCommand(res.ExitCode)
	return nil
}

func (d *Dispatcher) closeChannel(s *slot) {
	if err := s.ch.Close(); err != nil {
		if errors.Is(err, io.EOF) {
			slog.Debug("channel already closed", slog.Uint64("channel", uint64(s.id)))
		} else {
			slog.Debug("channel close failed",
				slog.Uint64("channel", uint64(s.id)),
				slog.String("error", err.Error()),
			)
		}
	}
	d.setState(s, StateClosed)
}
