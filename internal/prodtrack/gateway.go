package prodtrack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"
)

// Apps Script endpoint actions. Fetch and save pair up per table.
const (
	ActionGetProduction  = "getProduction"
	ActionSaveProduction = "saveProduction"
	ActionGetUsers       = "getUsers"
	ActionSaveUsers      = "saveUsers"
	ActionGetOffDays     = "getOffDays"
	ActionSaveOffDays    = "saveOffDays"
	ActionGetLogs        = "getLogs"
	ActionSaveLogs       = "saveLogs"
)

const defaultGatewayTimeout = 15 * time.Second

// SheetsGateway talks to the Google Apps Script web endpoint in front of the
// spreadsheet. The endpoint is assumed to be flaky: every failure mode
// (network error, non-JSON body, HTML error page) collapses to "no data" on
// reads and is swallowed on writes, so callers never propagate remote
// trouble to the UI.
type SheetsGateway struct {
	resolveURL func() string
	httpClient *http.Client
	logger     Logger
	now        func() time.Time
	seed       func() int64
}

type GatewayOptions struct {
	HTTPClient *http.Client
	Logger     Logger
	Now        func() time.Time
}

func NewSheetsGateway(resolveURL func() string) *SheetsGateway {
	return NewSheetsGatewayWithOptions(resolveURL, GatewayOptions{})
}

func NewSheetsGatewayWithOptions(resolveURL func() string, options GatewayOptions) *SheetsGateway {
	if resolveURL == nil {
		resolveURL = func() string { return "" }
	}
	client := options.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultGatewayTimeout}
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &SheetsGateway{
		resolveURL: resolveURL,
		httpClient: client,
		logger:     options.Logger,
		now:        now,
		seed:       rand.Int63,
	}
}

// IsEnabled reports whether a usable endpoint is currently configured.
func (g *SheetsGateway) IsEnabled() bool {
	return g != nil && g.resolveURL() != ""
}

// ActiveURL returns the endpoint currently in use ("" when disabled).
func (g *SheetsGateway) ActiveURL() string {
	if g == nil {
		return ""
	}
	return g.resolveURL()
}

// FetchData GETs one table from the endpoint. It returns nil on any failure;
// a nil result means "leave the local copy alone", never "table is empty".
func (g *SheetsGateway) FetchData(ctx context.Context, action string) json.RawMessage {
	if g == nil || action == "" {
		return nil
	}
	base := g.resolveURL()
	if base == "" {
		return nil
	}

	// Cache-busting query params: Apps Script sits behind aggressive
	// intermediary caches on factory-floor networks.
	query := url.Values{}
	query.Set("action", action)
	query.Set("_t", fmt.Sprintf("%d", g.now().UnixMilli()))
	query.Set("_s", fmt.Sprintf("%d", g.seed()))

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+query.Encode(), nil)
	if err != nil {
		g.logf("sheets fetch %s: %v", action, err)
		return nil
	}
	response, err := g.httpClient.Do(request)
	if err != nil {
		g.logf("sheets fetch %s: %v", action, err)
		return nil
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		g.logf("sheets fetch %s: status %d", action, response.StatusCode)
		return nil
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		g.logf("sheets fetch %s: %v", action, err)
		return nil
	}
	// The endpoint serves an HTML error page with status 200 when the
	// script is misdeployed; only valid JSON counts as data.
	if !json.Valid(body) {
		g.logf("sheets fetch %s: non-JSON response", action)
		return nil
	}
	return body
}

// savePayload is the envelope the spreadsheet script expects; timestamp is
// epoch milliseconds.
type savePayload struct {
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// SaveData POSTs one table to the endpoint, fire-and-forget. The response
// status is not inspected: Apps Script answers cross-origin posts opaquely,
// so delivery of the request is the only signal available. Returns whether
// the request was delivered.
func (g *SheetsGateway) SaveData(ctx context.Context, action string, data json.RawMessage) bool {
	if g == nil || action == "" {
		return false
	}
	base := g.resolveURL()
	if base == "" {
		return false
	}
	if data == nil {
		data = json.RawMessage("null")
	}
	body, err := json.Marshal(savePayload{
		Action:    action,
		Data:      data,
		Timestamp: g.now().UnixMilli(),
	})
	if err != nil {
		g.logf("sheets save %s: %v", action, err)
		return false
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, base, bytes.NewReader(body))
	if err != nil {
		g.logf("sheets save %s: %v", action, err)
		return false
	}
	// text/plain keeps the request a CORS "simple request" for the
	// endpoint, matching how the spreadsheet script expects to be called.
	request.Header.Set("Content-Type", "text/plain;charset=utf-8")

	response, err := g.httpClient.Do(request)
	if err != nil {
		g.logf("sheets save %s: %v", action, err)
		return false
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)
	return true
}

func (g *SheetsGateway) logf(format string, args ...any) {
	if g.logger == nil {
		return
	}
	g.logger.Printf(format, args...)
}
