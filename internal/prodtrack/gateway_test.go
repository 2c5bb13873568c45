package prodtrack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

func gatewayFor(url string) *SheetsGateway {
	return NewSheetsGatewayWithOptions(func() string { return url }, GatewayOptions{Now: fixedNow})
}

func TestGatewayDisabledWhenNoURL(t *testing.T) {
	g := gatewayFor("")
	if g.IsEnabled() {
		t.Fatal("gateway without a URL should be disabled")
	}
	if g.FetchData(context.Background(), ActionGetUsers) != nil {
		t.Fatal("fetch on a disabled gateway should return nil")
	}
	if g.SaveData(context.Background(), ActionSaveUsers, json.RawMessage(`[]`)) {
		t.Fatal("save on a disabled gateway should report failure")
	}
}

func TestGatewayFetchData(t *testing.T) {
	var gotAction string
	var gotCacheBust bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.URL.Query().Get("action")
		gotCacheBust = r.URL.Query().Get("_t") != "" && r.URL.Query().Get("_s") != ""
		_, _ = w.Write([]byte(`[{"id":"p1"}]`))
	}))
	defer server.Close()

	g := gatewayFor(server.URL)
	raw := g.FetchData(context.Background(), ActionGetProduction)
	if string(raw) != `[{"id":"p1"}]` {
		t.Fatalf("unexpected body %q", raw)
	}
	if gotAction != ActionGetProduction {
		t.Fatalf("action query missing, got %q", gotAction)
	}
	if !gotCacheBust {
		t.Fatal("cache-busting params missing")
	}
}

func TestGatewayFetchFailuresCollapseToNil(t *testing.T) {
	htmlServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>script error page</html>"))
	}))
	defer htmlServer.Close()
	if gatewayFor(htmlServer.URL).FetchData(context.Background(), ActionGetUsers) != nil {
		t.Fatal("non-JSON body should collapse to nil")
	}

	errServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer errServer.Close()
	if gatewayFor(errServer.URL).FetchData(context.Background(), ActionGetUsers) != nil {
		t.Fatal("non-200 status should collapse to nil")
	}

	down := gatewayFor("http://127.0.0.1:1")
	if down.FetchData(context.Background(), ActionGetUsers) != nil {
		t.Fatal("network error should collapse to nil")
	}
}

func TestGatewaySaveData(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		// Apps Script style: opaque answer, status irrelevant to the caller.
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	g := gatewayFor(server.URL)
	if !g.SaveData(context.Background(), ActionSaveProduction, json.RawMessage(`[{"id":"p1"}]`)) {
		t.Fatal("delivered request should count as success regardless of status")
	}
	if !strings.HasPrefix(gotContentType, "text/plain") {
		t.Fatalf("save must post as text/plain, got %q", gotContentType)
	}

	var envelope struct {
		Action    string          `json:"action"`
		Data      json.RawMessage `json:"data"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(gotBody, &envelope); err != nil {
		t.Fatalf("invalid save envelope: %v", err)
	}
	if envelope.Action != ActionSaveProduction {
		t.Fatalf("wrong action %q", envelope.Action)
	}
	if string(envelope.Data) != `[{"id":"p1"}]` {
		t.Fatalf("wrong data %q", envelope.Data)
	}
	// The script consumes timestamp as a raw epoch-ms number, never a string.
	want := strconv.FormatInt(fixedNow().UnixMilli(), 10)
	if string(envelope.Timestamp) != want {
		t.Fatalf("timestamp must be epoch milliseconds, got %s, want %s", envelope.Timestamp, want)
	}
}

func TestGatewaySaveNetworkFailure(t *testing.T) {
	g := gatewayFor("http://127.0.0.1:1")
	if g.SaveData(context.Background(), ActionSaveUsers, json.RawMessage(`[]`)) {
		t.Fatal("undeliverable save should report failure")
	}
}
