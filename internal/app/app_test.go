package app

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/vburojevic/uelog/internal/config"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}

func startApp(t *testing.T) *App {
	t.Helper()

	cfg := config.Default()
	cfg.UDPPort = 0
	cfg.HTTPPort = 0
	cfg.DB = filepath.Join(t.TempDir(), "logs.db")
	cfg.LegacyConsole = true

	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	t.Cleanup(a.Stop)

	return a
}

func sendDatagram(t *testing.T, port int, payload string) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
}

// openStream opens the SSE stream and consumes the endpoint handshake.
func openStream(t *testing.T, a *App) (*bufio.Reader, string) {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", a.HTTPPort()))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)

	var event, data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
		}
	}

	require.Equal(t, "endpoint", event)
	sessionID := strings.TrimPrefix(data, "/messages?session_id=")
	require.Regexp(t, regexp.MustCompile(`^session_\d+_[0-9a-f]{8}$`), sessionID)
	return reader, sessionID
}

// readMessage reads frames until the next message event and returns its
// data payload.
func readMessage(t *testing.T, reader *bufio.Reader) string {
	t.Helper()

	var event, data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event == "message" {
				return data
			}
			event, data = "", ""
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestIngestToQueryEndToEnd(t *testing.T) {
	a := startApp(t)

	sendDatagram(t, a.UDPPort(), `{"source":"client","category":"LogNet","verbosity":"Error","message":"connection dropped","session_id":"match-1","instance_id":"player-1"}`)

	require.Eventually(t, func() bool {
		n, err := a.Store().Count()
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	reader, sessionID := openStream(t, a)

	post := func(body string) {
		url := fmt.Sprintf("http://127.0.0.1:%d/messages?session_id=%s", a.HTTPPort(), sessionID)
		resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	// MCP handshake, then tools/list must succeed.
	post(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	init := gjson.Parse(readMessage(t, reader))
	assert.Equal(t, "2024-11-05", init.Get("result.protocolVersion").String())

	post(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	post(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	list := gjson.Parse(readMessage(t, reader))
	assert.NotEmpty(t, list.Get("result.tools").Array())

	// Stats round-trip per the wire contract.
	post(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"get_stats","arguments":{}}}`)
	stats := gjson.Parse(readMessage(t, reader))
	assert.Equal(t, int64(3), stats.Get("id").Int())
	assert.False(t, stats.Get("result.isError").Bool())

	text := stats.Get("result.content.0.text").String()
	require.True(t, gjson.Valid(text))
	assert.Equal(t, int64(1), gjson.Get(text, "total").Int())
	assert.Equal(t, int64(1), gjson.Get(text, "errors").Int())
	assert.Equal(t, "match-1", gjson.Get(text, "current_session").String())

	// And the entry itself comes back through query_logs.
	post(`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"query_logs","arguments":{"session_id":"match-1","instance_id":"player-1"}}}`)
	query := gjson.Parse(readMessage(t, reader))
	logs := query.Get("result.content.0.text").String()
	assert.Equal(t, "connection dropped", gjson.Get(logs, "logs.0.message").String())
}

func TestHealthEndpoint(t *testing.T) {
	a := startApp(t)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", a.HTTPPort()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConfiguredTailIsIngested(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "server.log")
	require.NoError(t, writeFile(logPath, "preexisting line\n"))

	cfg := config.Default()
	cfg.UDPPort = 0
	cfg.HTTPPort = 0
	cfg.DB = filepath.Join(dir, "logs.db")
	cfg.LegacyConsole = true
	cfg.Tails = []config.TailConfig{
		{Path: logPath, Name: "DedicatedServer"},
		{Path: filepath.Join(dir, "missing.log")}, // skipped, not fatal
	}

	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	t.Cleanup(a.Stop)

	require.NoError(t, appendFile(logPath, "ServerTravel: map changed\n"))

	require.Eventually(t, func() bool {
		n, err := a.Store().Count()
		return err == nil && n == 1
	}, 3*time.Second, 20*time.Millisecond)

	sources := a.sources.List()
	require.Len(t, sources, 1)
	assert.Equal(t, "DedicatedServer", sources[0].Name)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := config.Default()
	cfg.UDPPort = 0
	cfg.HTTPPort = 0
	cfg.DB = filepath.Join(t.TempDir(), "logs.db")
	cfg.LegacyConsole = true

	a, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Wait until the transport answers, then shut down.
	require.Eventually(t, func() bool {
		port := a.HTTPPort()
		if port == 0 {
			return false
		}
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
