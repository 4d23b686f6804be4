package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	return string(body)
}

func TestHandler_ExposesRecordedSeries(t *testing.T) {
	RecordAuth("password")
	RecordChannel("session", true)
	RecordChannel("tun@openssh.com", false)
	RecordRequest("exec", true)
	RecordRequest("no-more-sessions@openssh.com", false)
	RecordCommand(127)
	RecordCommandError()
	RecordSFTPRequest("Mkdir", nil)
	RecordSFTPRequest("Rename", errors.New("unsupported"))
	RecordSFTPWrite(42)
	SetFilesystemNodes(18)
	ConnectionOpened()
	ConnectionClosed()

	body := scrape(t)
	wants := []string{
		`fakessh_auth_attempts_total{method="password"}`,
		`fakessh_channels_total{result="accepted",type="session"}`,
		`fakessh_channels_total{result="rejected",type="other"}`,
		`fakessh_requests_total{result="accepted",type="exec"}`,
		`fakessh_requests_total{result="rejected",type="other"}`,
		`fakessh_commands_total{exit_code="127"}`,
		`fakessh_command_errors_total`,
		`fakessh_sftp_requests_total{method="Mkdir",status="ok"}`,
		`fakessh_sftp_requests_total{method="Rename",status="error"}`,
		`fakessh_sftp_bytes_written_total`,
		`fakessh_filesystem_nodes 18`,
		`fakessh_connections_active 0`,
	}
	for _, want := range wants {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if strings.Contains(body, "tun@openssh.com") {
		t.Error("peer-supplied channel type leaked into labels")
	}
}

func TestKnown(t *testing.T) {
	if got := known("exec", requestTypes); got != "exec" {
		t.Errorf("known(exec) = %q", got)
	}
	if got := known("keepalive@openssh.com", requestTypes); got != "other" {
		t.Errorf("known(keepalive) = %q, want other", got)
	}
}
