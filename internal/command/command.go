// Package command defines the contract between the SSH exec path and the
// code that decides what a command prints and how it exits.
package command

import (
	"context"
	"fmt"
)

// Result is the canned outcome of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int // sent as 255 when outside 0-255
}

// Handler computes the result of a command. Implementations must be safe
// for concurrent use; the dispatcher calls them from one goroutine per
// channel.
type Handler interface {
	Handle(ctx context.Context, cmd string) (Result, error)
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, cmd string) (Result, error)

// Handle calls f(ctx, cmd).
func (f HandlerFunc) Handle(ctx context.Context, cmd string) (Result, error) {
	return f(ctx, cmd)
}

// Echo returns a handler that prints the command back on stdout and exits 0.
func Echo() Handler {
	return HandlerFunc(func(_ context.Context, cmd string) (Result, error) {
		return Result{Stdout: cmd}, nil
	})
}

// Fail returns a handler that reports every command as not found.
func Fail() Handler {
	return HandlerFunc(func(_ context.Context, cmd string) (Result, error) {
		return Result{
			Stderr:   fmt.Sprintf("%s: command not found\n", cmd),
			ExitCode: 127,
		}, nil
	})
}

// ByName returns the built-in handler called name.
func ByName(name string) (Handler, error) {
	switch name {
	case "", "echo":
		return Echo(), nil
	case "fail":
		return Fail(), nil
	default:
		return nil, fmt.Errorf("unknown command handler %q", name)
	}
}
