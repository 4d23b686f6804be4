// Package server is the SSH front end of the fake host.
//
// It accepts every client, answers exec requests through a command handler
// and serves the sftp subsystem from the shared virtual filesystem.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/fake-ssh/internal/adapters/realnet"
	"github.com/acolita/fake-ssh/internal/command"
	"github.com/acolita/fake-ssh/internal/metrics"
	"github.com/acolita/fake-ssh/internal/ports"
	"github.com/acolita/fake-ssh/internal/sftpd"
	"github.com/acolita/fake-ssh/internal/vfs"
)

// Server is a fake SSH server.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	hostKey  ssh.Signer
	handler  command.Handler
	sftp     *sftpd.Handler
	network  ports.NetworkListener

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// Option configures the server.
type Option func(*Server)

// WithHostKey sets the host key. Without it a key is generated.
func WithHostKey(signer ssh.Signer) Option {
	return func(s *Server) {
		s.hostKey = signer
	}
}

// WithCommandHandler sets the handler that answers exec requests.
func WithCommandHandler(h command.Handler) Option {
	return func(s *Server) {
		s.handler = h
	}
}

// WithNetworkListener sets how the listening socket is created.
func WithNetworkListener(nl ports.NetworkListener) Option {
	return func(s *Server) {
		s.network = nl
	}
}

// New starts a server on addr serving fsys. Use "127.0.0.1:0" for a random
// port.
func New(addr string, fsys *vfs.FS, opts ...Option) (*Server, error) {
	s := &Server{
		handler: command.Echo(),
		sftp:    sftpd.NewHandler(fsys),
		network: realnet.NewListener(),
		done:    make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.hostKey == nil {
		signer, err := GenerateHostKey()
		if err != nil {
			return nil, err
		}
		s.hostKey = signer
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, _ []byte) (*ssh.Permissions, error) {
			metrics.RecordAuth("password")
			slog.Debug("accepting password auth", slog.String("user", c.User()))
			return nil, nil
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, pub ssh.PublicKey) (*ssh.Permissions, error) {
			metrics.RecordAuth("publickey")
			slog.Debug("accepting publickey auth",
				slog.String("user", c.User()),
				slog.String("type", pub.Type()),
			)
			return nil, nil
		},
	}
	config.AddHostKey(s.hostKey)
	s.config = config

	listener, err := s.network.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()
	s.ctx, s.cancel = context.WithCancel(context.Background())

	metrics.SetFilesystemNodes(fsys.Len())

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Info("fake SSH server started", slog.String("addr", s.addr))
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.addr
}

// Host returns the host part of the address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.addr)
	return host
}

// Port returns the port the server is listening on.
func (s *Server) Port() string {
	_, port, _ := net.SplitHostPort(s.addr)
	return port
}

// PublicKey returns the host's public key, for client HostKeyCallbacks.
func (s *Server) PublicKey() ssh.PublicKey {
	return s.hostKey.PublicKey()
}

// Close stops accepting, drops every connection and waits for their
// goroutines to finish. Calls after the first are no-ops.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() { err = s.shutdown() })
	return err
}

func (s *Server) shutdown() error {
	close(s.done)
	s.cancel()
	err := s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	slog.Info("fake SSH server stopped", slog.String("addr", s.addr))
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Debug("accept error", slog.String("error", err.Error()))
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	if !s.track(netConn) {
		return
	}
	defer s.untrack(netConn)

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		slog.Debug("SSH handshake failed", slog.String("error", err.Error()))
		return
	}
	defer sshConn.Close()

	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()

	slog.Debug("connection established",
		slog.String("user", sshConn.User()),
		slog.String("remote", sshConn.RemoteAddr().String()),
	)

	go ssh.DiscardRequests(reqs)

	c := newConnection(s, sshConn)
	c.serve(chans)

	slog.Debug("connection closed", slog.String("remote", sshConn.RemoteAddr().String()))
}

// track registers conn so Close can drop it, handshake included. It
// reports false when the server is already shutting down.
func (s *Server) track(conn net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	select {
	case <-s.done:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}
