package server

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/acolita/fake-ssh/internal/dispatch"
	"github.com/acolita/fake-ssh/internal/metrics"
)

type execRequestMsg struct {
	Command string
}

type subsystemRequestMsg struct {
	Subsystem string
}

type exitStatusMsg struct {
	Status uint32
}

// connection owns the channels of one SSH session.
type connection struct {
	srv        *Server
	conn       *ssh.ServerConn
	ctx        context.Context
	dispatcher *dispatch.Dispatcher
	nextID     dispatch.ID
	wg         sync.WaitGroup
}

func newConnection(srv *Server, conn *ssh.ServerConn) *connection {
	return &connection{
		srv:  srv,
		conn: conn,
		ctx:  srv.ctx,
	}
}

func (c *connection) serve(chans <-chan ssh.NewChannel) {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	c.dispatcher = dispatch.New(ctx, c.srv.handler)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			metrics.RecordChannel(newChannel.ChannelType(), false)
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		metrics.RecordChannel("session", true)

		channel, requests, err := newChannel.Accept()
		if err != nil {
			slog.Debug("channel accept failed", slog.String("error", err.Error()))
			continue
		}

		id := c.nextID
		c.nextID++
		if err := c.dispatcher.Open(id, &execChannel{ch: channel}); err != nil {
			slog.Error("channel registration failed", slog.String("error", err.Error()))
			channel.Close()
			continue
		}

		c.wg.Add(1)
		go c.handleChannel(id, channel, requests)
	}

	// The connection is gone; stop handlers still running for it.
	c.wg.Wait()
	cancel()
	c.dispatcher.Wait()
}

func (c *connection) handleChannel(id dispatch.ID, channel ssh.Channel, requests <-chan *ssh.Request) {
	defer c.wg.Done()
	defer c.dispatcher.Release(id)

	for req := range requests {
		switch req.Type {
		case "exec":
			var msg execRequestMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				slog.Debug("bad exec payload", slog.String("error", err.Error()))
				reply(req, false)
				continue
			}
			// The reply must reach the peer before the worker closes the channel.
			if err := c.dispatcher.Arm(id, []byte(msg.Command)); err != nil {
				slog.Warn("exec rejected",
					slog.Uint64("channel", uint64(id)),
					slog.String("error", err.Error()),
				)
				reply(req, false)
				continue
			}
			reply(req, true)
			c.dispatcher.Start(id)

		case "subsystem":
			var msg subsystemRequestMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil || msg.Subsystem != "sftp" {
				slog.Debug("subsystem refused", slog.String("name", msg.Subsystem))
				reply(req, false)
				continue
			}
			reply(req, true)
			c.wg.Add(1)
			go c.serveSFTP(id, channel)

		case "env":
			reply(req, true)

		default:
			slog.Debug("request refused", slog.String("type", req.Type))
			reply(req, false)
		}
	}
}

func (c *connection) serveSFTP(id dispatch.ID, channel ssh.Channel) {
	defer c.wg.Done()
	defer channel.Close()

	slog.Debug("sftp session started",
		slog.Uint64("channel", uint64(id)),
		slog.String("user", c.conn.User()),
	)

	server := sftp.NewRequestServer(channel, c.srv.sftp.Handlers())
	if err := server.Serve(); err != nil && err != io.EOF {
		slog.Debug("sftp session error", slog.String("error", err.Error()))
	}
	server.Close()

	slog.Debug("sftp session ended", slog.Uint64("channel", uint64(id)))
}

func reply(req *ssh.Request, ok bool) {
	metrics.RecordRequest(req.Type, ok)
	if req.WantReply {
		req.Reply(ok, nil)
	}
}

// execChannel adapts ssh.Channel to dispatch.Channel.
type execChannel struct {
	ch ssh.Channel
}

func (e *execChannel) Send(b []byte) error {
	_, err := e.ch.Write(b)
	return err
}

func (e *execChannel) SendStderr(b []byte) error {
	_, err := e.ch.Stderr().Write(b)
	return err
}

func (e *execChannel) SendExitStatus(code int) error {
	_, err := e.ch.SendRequest("exit-status", false, ssh.Marshal(exitStatusMsg{Status: exitStatus(code)}))
	return err
}

// exitStatus maps code onto the 0-255 range a shell reports. Negative codes
// become 255.
func exitStatus(code int) uint32 {
	if code < 0 || code > 255 {
		return 255
	}
	return uint32(code)
}

func (e *execChannel) Close() error {
	return e.ch.Close()
}
