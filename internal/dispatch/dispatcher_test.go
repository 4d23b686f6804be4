package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/acolita/fake-ssh/internal/command"
)

// fakeChannel records everything the worker sends.
type fakeChannel struct {
	mu       sync.Mutex
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	exit     *int
	closes   int
	closeErr error
	sendErr  error
	closed   chan struct{}
	once     sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{closed: make(chan struct{})}
}

func (c *fakeChannel) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.stdout.Write(b)
	return nil
}

func (c *fakeChannel) SendStderr(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stderr.Write(b)
	return nil
}

func (c *fakeChannel) SendExitStatus(code int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exit = &code
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closes++
	err := c.closeErr
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return err
}

func (c *fakeChannel) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestDispatcher_OpenRegistersChannel(t *testing.T) {
	d := New(context.Background(), command.Echo())

	if err := d.Open(1, newFakeChannel()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	state, ok := d.State(1)
	if !ok || state != StateOpen {
		t.Errorf("State(1) = %v, %v, want open", state, ok)
	}
	if _, ok := d.State(2); ok {
		t.Error("State(2) should not exist")
	}

	if err := d.Open(1, newFakeChannel()); !errors.Is(err, ErrChannelExists) {
		t.Errorf("second Open() error = %v, want ErrChannelExists", err)
	}
}

func TestDispatcher_ExecStreamsResult(t *testing.T) {
	h := command.HandlerFunc(func(ctx context.Context, cmd string) (command.Result, error) {
		return command.Result{Stdout: "out:" + cmd, Stderr: "err:" + cmd, ExitCode: 3}, nil
	})
	d := New(context.Background(), h)
	ch := newFakeChannel()
	d.Open(7, ch)

	if err := d.Exec(7, []byte("uptime")); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	ch.waitClosed(t)
	d.Wait()

	if got := ch.stdout.String(); got != "out:uptime" {
		t.Errorf("stdout = %q", got)
	}
	if got := ch.stderr.String(); got != "err:uptime" {
		t.Errorf("stderr = %q", got)
	}
	if ch.exit == nil || *ch.exit != 3 {
		t.Errorf("exit = %v, want 3", ch.exit)
	}
	if state, _ := d.State(7); state != StateClosed {
		t.Errorf("State() = %v, want closed", state)
	}
}

func TestDispatcher_StateTransitions(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	h := command.HandlerFunc(func(ctx context.Context, cmd string) (command.Result, error) {
		close(entered)
		<-release
		return command.Result{}, nil
	})
	d := New(context.Background(), h)
	ch := newFakeChannel()
	d.Open(1, ch)

	d.Exec(1, []byte("sleep"))
	<-entered
	if state, _ := d.State(1); state != StateExecuting {
		t.Errorf("State() = %v, want executing", state)
	}
	if err := d.Exec(1, []byte("again")); !errors.Is(err, ErrCommandPending) {
		t.Errorf("Exec() while executing error = %v, want ErrCommandPending", err)
	}

	close(release)
	ch.waitClosed(t)
	d.Wait()

	if err := d.Exec(1, []byte("late")); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Exec() after close error = %v, want ErrChannelClosed", err)
	}
}

func TestDispatcher_ArmWaitsForStart(t *testing.T) {
	d := New(context.Background(), command.Echo())
	ch := newFakeChannel()
	d.Open(1, ch)

	if err := d.Arm(1, []byte("hostname")); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	if state, _ := d.State(1); state != StateArmed {
		t.Errorf("State() = %v, want armed", state)
	}
	if err := d.Arm(1, []byte("again")); !errors.Is(err, ErrCommandPending) {
		t.Errorf("second Arm() error = %v, want ErrCommandPending", err)
	}
	ch.mu.Lock()
	closes := ch.closes
	ch.mu.Unlock()
	if closes != 0 {
		t.Fatal("worker ran before Start")
	}

	d.Start(1)
	d.Start(1)
	ch.waitClosed(t)
	d.Wait()

	if got := ch.stdout.String(); got != "hostname" {
		t.Errorf("stdout = %q, want hostname", got)
	}
	if ch.closes != 1 {
		t.Errorf("closes = %d, want 1", ch.closes)
	}
}

func TestDispatcher_StartWithoutArmIsNoop(t *testing.T) {
	d := New(context.Background(), command.Echo())
	ch := newFakeChannel()
	d.Open(1, ch)

	d.Start(1)
	d.Start(42)
	d.Wait()

	if state, _ := d.State(1); state != StateOpen {
		t.Errorf("State() = %v, want open", state)
	}
	if ch.closes != 0 {
		t.Errorf("closes = %d, want 0", ch.closes)
	}
}

func TestDispatcher_ExecUnknownChannel(t *testing.T) {
	d := New(context.Background(), command.Echo())

	if err := d.Exec(9, []byte("ls")); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Exec() error = %v, want ErrUnknownChannel", err)
	}
}

func TestDispatcher_HandlerErrorStillCloses(t *testing.T) {
	h := command.HandlerFunc(func(ctx context.Context, cmd string) (command.Result, error) {
		return command.Result{}, errors.New("boom")
	})
	d := New(context.Background(), h)
	ch := newFakeChannel()
	d.Open(1, ch)

	d.Exec(1, []byte("explode"))
	ch.waitClosed(t)
	d.Wait()

	if ch.exit != nil {
		t.Error("no exit status should be sent after a handler error")
	}
	if state, _ := d.State(1); state != StateClosed {
		t.Errorf("State() = %v, want closed", state)
	}
}

func TestDispatcher_HandlerPanicStillCloses(t *testing.T) {
	h := command.HandlerFunc(func(ctx context.Context, cmd string) (command.Result, error) {
		panic("handler bug")
	})
	d := New(context.Background(), h)
	ch := newFakeChannel()
	d.Open(1, ch)

	d.Exec(1, []byte("explode"))
	ch.waitClosed(t)
	d.Wait()

	if ch.closes != 1 {
		t.Errorf("closes = %d, want 1", ch.closes)
	}
}

func TestDispatcher_SendErrorStillCloses(t *testing.T) {
	d := New(context.Background(), command.Echo())
	ch := newFakeChannel()
	ch.sendErr = io.ErrClosedPipe
	d.Open(1, ch)

	d.Exec(1, []byte("ls"))
	ch.waitClosed(t)
	d.Wait()

	if ch.exit != nil {
		t.Error("exit status sent after stdout failure")
	}
}

func TestDispatcher_DoubleCloseTolerated(t *testing.T) {
	d := New(context.Background(), command.Echo())
	ch := newFakeChannel()
	ch.closeErr = io.EOF
	d.Open(1, ch)

	d.Exec(1, []byte("ls"))
	ch.waitClosed(t)
	d.Wait()

	if state, _ := d.State(1); state != StateClosed {
		t.Errorf("State() = %v, want closed", state)
	}
}

func TestDispatcher_Release(t *testing.T) {
	d := New(context.Background(), command.Echo())
	d.Open(1, newFakeChannel())

	d.Release(1)

	if state, _ := d.State(1); state != StateClosed {
		t.Errorf("State() = %v, want closed", state)
	}
	if err := d.Exec(1, []byte("ls")); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Exec() error = %v, want ErrChannelClosed", err)
	}
}

func TestDispatcher_CommandIsolation(t *testing.T) {
	h := command.HandlerFunc(func(ctx context.Context, cmd string) (command.Result, error) {
		time.Sleep(time.Millisecond)
		return command.Result{Stdout: "result of " + cmd, Stderr: cmd}, nil
	})
	d := New(context.Background(), h)

	const n = 32
	channels := make([]*fakeChannel, n)
	for i := range channels {
		channels[i] = newFakeChannel()
		if err := d.Open(ID(i), channels[i]); err != nil {
			t.Fatalf("Open(%d) error = %v", i, err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := d.Exec(ID(i), []byte(fmt.Sprintf("cmd-%d", i))); err != nil {
				t.Errorf("Exec(%d) error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	d.Wait()

	for i, ch := range channels {
		want := fmt.Sprintf("cmd-%d", i)
		if got := ch.stdout.String(); got != "result of "+want {
			t.Errorf("channel %d stdout = %q", i, got)
		}
		if got := ch.stderr.String(); got != want {
			t.Errorf("channel %d stderr = %q", i, got)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateOpen:      "open",
		StateArmed:     "armed",
		StateExecuting: "executing",
		StateClosed:    "closed",
		State(42):      "State(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
