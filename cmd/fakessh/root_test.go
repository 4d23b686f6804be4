package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/acolita/fake-ssh/internal/config"
	"github.com/acolita/fake-ssh/internal/server"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "fakessh version "+Version)
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	options{listen: "127.0.0.1:0", debug: true}.applyOverrides(cfg)

	require.Equal(t, "127.0.0.1:0", cfg.Server.Listen)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestRun_ServesConfiguredRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: error
filesystem:
  seed:
    /data/report.csv: "a,b\n"
commands:
  default: fail
  rules:
    - pattern: "hostname"
      stdout: "fake-host\n"
`), 0o644))

	var gotStdout, gotStderr string
	err := run(options{configPath: path, listen: "127.0.0.1:0"}, func(srv *server.Server) {
		client, err := ssh.Dial("tcp", srv.Addr(), &ssh.ClientConfig{
			User:            "ci",
			Auth:            []ssh.AuthMethod{ssh.Password("ci")},
			HostKeyCallback: ssh.FixedHostKey(srv.PublicKey()),
		})
		require.NoError(t, err)
		defer client.Close()

		session, err := client.NewSession()
		require.NoError(t, err)
		out, err := session.Output("hostname")
		require.NoError(t, err)
		gotStdout = string(out)
		session.Close()

		session, err = client.NewSession()
		require.NoError(t, err)
		var stderr bytes.Buffer
		session.Stderr = &stderr
		err = session.Run("reboot")
		require.Error(t, err)
		gotStderr = stderr.String()
		session.Close()
	})
	require.NoError(t, err)

	require.Equal(t, "fake-host\n", gotStdout)
	require.True(t, strings.HasPrefix(gotStderr, "reboot: command not found"), gotStderr)
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("commands:\n  default: shell\n"), 0o644))

	err := run(options{configPath: path}, func(*server.Server) {
		t.Fatal("server must not start with an invalid config")
	})
	require.Error(t, err)
}

func TestRun_ReloadsRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeRules := func(stdout string) {
		tmp := filepath.Join(dir, "config.yaml.tmp")
		content := "logging:\n  level: error\ncommands:\n  rules:\n    - pattern: hostname\n      stdout: " + stdout + "\n"
		require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
		require.NoError(t, os.Rename(tmp, path))
	}
	writeRules("before")

	err := run(options{configPath: path, listen: "127.0.0.1:0"}, func(srv *server.Server) {
		client, err := ssh.Dial("tcp", srv.Addr(), &ssh.ClientConfig{
			User:            "ci",
			Auth:            []ssh.AuthMethod{ssh.Password("ci")},
			HostKeyCallback: ssh.FixedHostKey(srv.PublicKey()),
		})
		require.NoError(t, err)
		defer client.Close()

		hostname := func() string {
			session, err := client.NewSession()
			require.NoError(t, err)
			defer session.Close()
			out, err := session.Output("hostname")
			require.NoError(t, err)
			return string(out)
		}
		require.Equal(t, "before", hostname())

		writeRules("after")
		require.Eventually(t, func() bool {
			return hostname() == "after"
		}, 5*time.Second, 50*time.Millisecond)
	})
	require.NoError(t, err)
}
