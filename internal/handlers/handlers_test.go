package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/panemux/panemux/internal/config"
	"github.com/panemux/panemux/internal/events"
	"github.com/panemux/panemux/internal/mux"
	"github.com/panemux/panemux/internal/session"
	"github.com/panemux/panemux/internal/snippets"
	"github.com/panemux/panemux/internal/sshtest"
	"github.com/panemux/panemux/internal/store"
	"github.com/panemux/panemux/internal/transport"
)

// setup wires the full stack against temp stores and returns the API server.
// Handler state is package-level, so tests sharing it must not run parallel.
func setup(t *testing.T) *httptest.Server {
	t.Helper()

	dir := t.TempDir()
	hostStore, err := store.Open(filepath.Join(dir, "hosts.dat"), "test-pass")
	if err != nil {
		t.Fatalf("open host store: %v", err)
	}
	snipStore, err := store.Open(filepath.Join(dir, "snippets.dat"), "test-pass")
	if err != nil {
		t.Fatalf("open snippet store: %v", err)
	}

	Bus = events.NewBus()
	Registry = session.NewRegistry(hostStore, Bus)
	Supervisor = transport.NewSupervisor(Registry, Bus, nil, nil)
	Mux = mux.New(Supervisor, Bus, 0)
	Snips, err = snippets.NewService(snipStore, Bus)
	if err != nil {
		t.Fatalf("snippets service: %v", err)
	}
	Auditor = nil

	Supervisor.OnDisconnect(Mux.CloseAllForSession)
	Supervisor.OnConnect(func(id string) { Snips.RunOnConnect(id, Mux) })
	// Idle sessions have nothing to close, so the error is ignored.
	Registry.SetTeardown(func(id string) { _ = Supervisor.Disconnect(id) })

	r := chi.NewRouter()
	r.Route("/api/v1", Routes)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		Supervisor.CloseAll()
	})
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func createHost(t *testing.T, srv *httptest.Server, sshSrv *sshtest.Server, password string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", map[string]any{
		"hostAddress": sshSrv.Host,
		"port":        sshSrv.Port,
		"username":    "u",
		"password":    password,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create host: status %d body %s", resp.StatusCode, body)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	return out.ID
}

func awaitBusEvent(t *testing.T, sub <-chan events.Event, match func(events.Event) bool) events.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return events.Event{}
		}
	}
}

func TestCreateHostListsIdleWithoutSecrets(t *testing.T) {
	srv := setup(t)
	sshSrv := sshtest.Start(t, sshtest.Options{User: "u", Password: "p"})

	createHost(t, srv, sshSrv, "p")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	var views []map[string]any
	if err := json.Unmarshal(body, &views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 {
		t.Fatalf("list returned %d entries, want 1", len(views))
	}
	if views[0]["status"] != "idle" {
		t.Errorf("status = %v, want idle", views[0]["status"])
	}
	if _, ok := views[0]["password"]; ok {
		t.Error("password leaked into session view")
	}
	if strings.Contains(string(body), "password") {
		t.Errorf("secret field name present in list body: %s", body)
	}
}

func TestDuplicateHostRejectedUnlessOverridden(t *testing.T) {
	srv := setup(t)
	sshSrv := sshtest.Start(t, sshtest.Options{User: "u", Password: "p"})

	createHost(t, srv, sshSrv, "p")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", map[string]any{
		"hostAddress": sshSrv.Host,
		"port":        sshSrv.Port,
		"username":    "u",
		"password":    "p",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate create: status %d body %s", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", map[string]any{
		"hostAddress":    sshSrv.Host,
		"port":           sshSrv.Port,
		"username":       "u",
		"password":       "p",
		"allowDuplicate": true,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("override create: status %d", resp.StatusCode)
	}
}

func TestConnectUnreachableResolvesWithError(t *testing.T) {
	srv := setup(t)

	// A port nothing listens on.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", map[string]any{
		"hostAddress": "127.0.0.1",
		"port":        port,
		"username":    "u",
		"password":    "p",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, body)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+created.ID+"/connect", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect: status %d body %s", resp.StatusCode, body)
	}
	var result struct {
		SessionID *string `json:"sessionId"`
		Error     *string `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatal(err)
	}
	if result.SessionID != nil {
		t.Errorf("sessionId = %v, want null", *result.SessionID)
	}
	if result.Error == nil || *result.Error == "" {
		t.Error("error missing from failed connect")
	}

	status, err := Registry.Status(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if status != session.StatusIdle {
		t.Errorf("status after failed connect = %v, want idle", status)
	}
}

func TestConnectUnknownSession(t *testing.T) {
	srv := setup(t)
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/nope/connect", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d body %s", resp.StatusCode, body)
	}
	var e struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatal(err)
	}
	if e.Reason != "unknown_session" {
		t.Errorf("reason = %q", e.Reason)
	}
}

func TestChannelEchoRoundTrip(t *testing.T) {
	srv := setup(t)
	sshSrv := sshtest.Start(t, sshtest.Options{User: "u", Password: "p"})
	id := createHost(t, srv, sshSrv, "p")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+id+"/connect", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect: %d %s", resp.StatusCode, body)
	}

	sub, cancel := Bus.Subscribe()
	defer cancel()

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+id+"/channels", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create channel: %d %s", resp.StatusCode, body)
	}

	created := awaitBusEvent(t, sub, func(ev events.Event) bool {
		return ev.Type == events.TypeChannelCreated
	})
	channelID := created.Data.(map[string]string)["channelId"]

	resp, body = doJSON(t, http.MethodPost,
		srv.URL+"/api/v1/sessions/"+id+"/channels/"+channelID+"/send",
		map[string]string{"text": "echo hi"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("send: %d %s", resp.StatusCode, body)
	}

	var collected strings.Builder
	awaitBusEvent(t, sub, func(ev events.Event) bool {
		if ev.Type != events.TypeChannelOutput {
			return false
		}
		payload := ev.Data.(events.OutputPayload)
		if payload.ChannelID != channelID {
			return false
		}
		collected.WriteString(payload.Data)
		return strings.Contains(collected.String(), "hi")
	})

	resp, body = doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/sessions/"+id+"/channels/"+channelID+"/transcript", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transcript: %d %s", resp.StatusCode, body)
	}
	var tr struct {
		Transcript string `json:"transcript"`
		Seq        uint64 `json:"seq"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tr.Transcript, "hi") {
		t.Errorf("transcript %q does not contain sent text", tr.Transcript)
	}
	if tr.Seq == 0 {
		t.Error("transcript snapshot missing sequence number")
	}
}

func TestSendUnknownChannelMapsTo404(t *testing.T) {
	srv := setup(t)
	sshSrv := sshtest.Start(t, sshtest.Options{User: "u", Password: "p"})
	id := createHost(t, srv, sshSrv, "p")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+id+"/connect", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect: %d %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost,
		srv.URL+"/api/v1/sessions/"+id+"/channels/nope/send",
		map[string]string{"text": "ls"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d body %s", resp.StatusCode, body)
	}
	var e struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatal(err)
	}
	if e.Reason != "unknown_channel" {
		t.Errorf("reason = %q", e.Reason)
	}
}

func TestChannelCreateNotConnectedMapsTo409(t *testing.T) {
	srv := setup(t)
	sshSrv := sshtest.Start(t, sshtest.Options{User: "u", Password: "p"})
	id := createHost(t, srv, sshSrv, "p")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+id+"/channels", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d body %s", resp.StatusCode, body)
	}
}

func TestRemoveSessionCascadesChannelsFirst(t *testing.T) {
	srv := setup(t)
	sshSrv := sshtest.Start(t, sshtest.Options{User: "u", Password: "p"})
	id := createHost(t, srv, sshSrv, "p")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+id+"/connect", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect: %d %s", resp.StatusCode, body)
	}
	for i := 0; i < 2; i++ {
		resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+id+"/channels", nil)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("create channel: %d %s", resp.StatusCode, body)
		}
	}
	if len(Mux.List(id)) != 2 {
		t.Fatalf("open channels = %d, want 2", len(Mux.List(id)))
	}

	sub, cancel := Bus.Subscribe()
	defer cancel()

	resp, body = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/sessions/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove: %d %s", resp.StatusCode, body)
	}

	destroyed := 0
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub:
			switch ev.Type {
			case events.TypeChannelDestroyed:
				destroyed++
				continue
			case events.TypeSessionsChanged:
				if destroyed != 2 {
					t.Fatalf("sessions.changed after %d channel.destroyed events, want 2", destroyed)
				}
			default:
				continue
			}
		case <-deadline:
			t.Fatal("no sessions.changed after remove")
		}
		break
	}

	var views []session.View
	_, listBody := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions", nil)
	if err := json.Unmarshal(listBody, &views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 0 {
		t.Errorf("sessions remain after remove: %v", views)
	}
}

func TestLocalFilesystemEndpoints(t *testing.T) {
	srv := setup(t)
	dir := t.TempDir()

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/fs/local/put", map[string]string{
		"path":    filepath.Join(dir, "f.txt"),
		"content": "aGVsbG8=", // "hello"
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("put: %d %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/v1/fs/local/list?path=%s", srv.URL, dir), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", resp.StatusCode, body)
	}
	var listing struct {
		Path    string `json:"path"`
		Entries []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
			Size int64  `json:"size"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		t.Fatal(err)
	}
	if len(listing.Entries) != 1 || listing.Entries[0].Name != "f.txt" || listing.Entries[0].Size != 5 {
		t.Errorf("listing = %+v", listing)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/fs/local/remove", map[string]string{
		"path": filepath.Join(dir, "f.txt"),
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove: %d %s", resp.StatusCode, body)
	}
}

func TestRemoteFilesystemNotConnected(t *testing.T) {
	srv := setup(t)
	sshSrv := sshtest.Start(t, sshtest.Options{User: "u", Password: "p"})
	id := createHost(t, srv, sshSrv, "p")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/fs/"+id+"/list?path=/tmp", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d body %s", resp.StatusCode, body)
	}
}

func TestSnippetEndpoints(t *testing.T) {
	srv := setup(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/snippets", map[string]any{
		"title":       "uptime",
		"commandText": "uptime",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, body)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/snippets", map[string]any{
		"title":       "",
		"commandText": "x",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid create: %d %s", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/v1/snippets/"+created.ID, map[string]any{
		"title":       "uptime",
		"commandText": "uptime -p",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("update: %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/snippets", nil)
	var list []snippets.CommandSnippet
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].CommandText != "uptime -p" {
		t.Errorf("list = %+v", list)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/snippets/"+created.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/snippets/"+created.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: %d", resp.StatusCode)
	}
}

func TestEventStreamDeliversEvents(t *testing.T) {
	srv := setup(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial events stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	Bus.Publish(events.TypeSessionsChanged, nil)

	_, payload, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != events.TypeSessionsChanged {
		t.Errorf("event type = %q, want sessions.changed", ev.Type)
	}
}

func TestSnippetAutoRunOnConnect(t *testing.T) {
	srv := setup(t)
	sshSrv := sshtest.Start(t, sshtest.Options{User: "u", Password: "p"})
	id := createHost(t, srv, sshSrv, "p")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/snippets", map[string]any{
		"title":        "greeting",
		"commandText":  "echo autorun-marker",
		"runOnConnect": []string{id},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create snippet: %d %s", resp.StatusCode, body)
	}

	sub, cancel := Bus.Subscribe()
	defer cancel()

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+id+"/connect", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect: %d %s", resp.StatusCode, body)
	}

	var collected strings.Builder
	awaitBusEvent(t, sub, func(ev events.Event) bool {
		if ev.Type != events.TypeChannelOutput {
			return false
		}
		collected.WriteString(ev.Data.(events.OutputPayload).Data)
		return strings.Contains(collected.String(), "autorun-marker")
	})
}

func TestGetSession(t *testing.T) {
	srv := setup(t)
	sshSrv := sshtest.Start(t, sshtest.Options{User: "u", Password: "p"})
	id := createHost(t, srv, sshSrv, "p")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get session: %d %s", resp.StatusCode, body)
	}
	var view map[string]any
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatal(err)
	}
	if view["id"] != id || view["status"] != "idle" {
		t.Errorf("view = %v", view)
	}
	if strings.Contains(string(body), "password") {
		t.Errorf("secret field name present in view body: %s", body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session: %d %s", resp.StatusCode, body)
	}
}

func TestLogsEndpoint(t *testing.T) {
	srv := setup(t)

	logPath := filepath.Join(t.TempDir(), "test.log")
	prev := config.Cfg.LogPath
	config.Cfg.LogPath = logPath
	t.Cleanup(func() { config.Cfg.LogPath = prev })

	content := "line one\nline two\nline three\n"
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/logs?lines=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get logs: %d %s", resp.StatusCode, body)
	}
	var out struct {
		Logs string `json:"logs"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Logs != "line two\nline three" {
		t.Errorf("logs tail = %q", out.Logs)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/logs?lines=zero", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad lines param: %d %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/logs", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear logs: %d %s", resp.StatusCode, body)
	}
	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("log file holds %d bytes after clear", info.Size())
	}
}

func TestHealth(t *testing.T) {
	srv := setup(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", resp.StatusCode)
	}
	var h struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "healthy" {
		t.Errorf("status = %q", h.Status)
	}
}
