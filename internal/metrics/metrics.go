// Package metrics provides Prometheus metrics for the fake SSH server.
package metrics

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fakessh_auth_attempts_total",
			Help: "Total authentication attempts, all of which succeed",
		},
		[]string{"method"},
	)

	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fakessh_connections_active",
			Help: "Number of established SSH connections",
		},
	)

	channelsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fakessh_channels_total",
			Help: "Total channel open requests",
		},
		[]string{"type", "result"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fakessh_requests_total",
			Help: "Total channel requests",
		},
		[]string{"type", "result"},
	)

	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fakessh_commands_total",
			Help: "Total exec commands run, by exit code",
		},
		[]string{"exit_code"},
	)

	commandErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fakessh_command_errors_total",
			Help: "Total exec commands whose handler or transport failed",
		},
	)

	sftpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fakessh_sftp_requests_total",
			Help: "Total SFTP requests",
		},
		[]string{"method", "status"},
	)

	sftpBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fakessh_sftp_bytes_written_total",
			Help: "Total bytes written through SFTP",
		},
	)

	filesystemNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fakessh_filesystem_nodes",
			Help: "Number of nodes in the virtual filesystem",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAuth records an authentication attempt.
func RecordAuth(method string) {
	authAttemptsTotal.WithLabelValues(method).Inc()
}

// ConnectionOpened increments the active connection gauge.
func ConnectionOpened() {
	connectionsActive.Inc()
}

// ConnectionClosed decrements the active connection gauge.
func ConnectionClosed() {
	connectionsActive.Dec()
}

// RecordChannel records a channel open request.
func RecordChannel(channelType string, accepted bool) {
	channelsTotal.WithLabelValues(known(channelType, channelTypes), result(accepted)).Inc()
}

// RecordRequest records a channel request.
func RecordRequest(requestType string, accepted bool) {
	requestsTotal.WithLabelValues(known(requestType, requestTypes), result(accepted)).Inc()
}

// RecordCommand records a finished exec command.
func RecordCommand(exitCode int) {
	commandsTotal.WithLabelValues(strconv.Itoa(exitCode)).Inc()
}

// RecordCommandError records an exec command that did not complete.
func RecordCommandError() {
	commandErrorsTotal.Inc()
}

// RecordSFTPRequest records one SFTP request.
func RecordSFTPRequest(method string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	sftpRequestsTotal.WithLabelValues(method, status).Inc()
}

// RecordSFTPWrite records bytes written through SFTP.
func RecordSFTPWrite(n int) {
	sftpBytesWritten.Add(float64(n))
}

// SetFilesystemNodes sets the node count gauge.
func SetFilesystemNodes(n int) {
	filesystemNodes.Set(float64(n))
}

// Label values come from the peer, so unknown ones are folded into "other".
var (
	channelTypes = []string{"session", "direct-tcpip", "forwarded-tcpip", "x11"}
	requestTypes = []string{"exec", "subsystem", "env", "pty-req", "shell", "window-change", "signal", "x11-req"}
)

func known(v string, values []string) string {
	if slices.Contains(values, v) {
		return v
	}
	return "other"
}

func result(ok bool) string {
	if ok {
		return "accepted"
	}
	return "rejected"
}
