package prodtrack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 4, 10, 0, 0, 0, factoryZone)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sheetsFixture fakes the Apps Script endpoint: canned GET responses per
// action, and a record of every mirrored save.
type sheetsFixture struct {
	mu        sync.Mutex
	responses map[string]string
	saves     map[string][]json.RawMessage
}

func newSheetsFixture() *sheetsFixture {
	return &sheetsFixture{
		responses: map[string]string{},
		saves:     map[string][]json.RawMessage{},
	}
}

func (f *sheetsFixture) respond(action, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[action] = body
}

func (f *sheetsFixture) savedCount(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves[action])
}

func (f *sheetsFixture) lastSave(action string) json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	saves := f.saves[action]
	if len(saves) == 0 {
		return nil
	}
	return saves[len(saves)-1]
}

func (f *sheetsFixture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		body, _ := io.ReadAll(r.Body)
		var envelope struct {
			Action string          `json:"action"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err == nil {
			f.mu.Lock()
			f.saves[envelope.Action] = append(f.saves[envelope.Action], envelope.Data)
			f.mu.Unlock()
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
		return
	}
	f.mu.Lock()
	body, ok := f.responses[r.URL.Query().Get("action")]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_, _ = w.Write([]byte(body))
}

func newTestService(t *testing.T, fixture *sheetsFixture, clock *fakeClock, opts ServiceOptions) (*Service, *Cache) {
	t.Helper()
	cache := NewCache(NewInMemoryCacheBackend(), nil)
	url := ""
	if fixture != nil {
		server := httptest.NewServer(fixture)
		t.Cleanup(server.Close)
		url = server.URL
	}
	gateway := NewSheetsGatewayWithOptions(func() string { return url }, GatewayOptions{Now: clock.Now})
	opts.Now = clock.Now
	svc := NewServiceWithOptions(cache, gateway, opts)
	return svc, cache
}

func TestServiceSeedsWhenEmpty(t *testing.T) {
	svc, _ := newTestService(t, nil, newFakeClock(), ServiceOptions{})

	users := svc.GetUsers()
	if len(users) == 0 {
		t.Fatal("empty cache should seed users")
	}
	admin := false
	for _, u := range users {
		if u.Role == RoleAdmin {
			admin = true
		}
	}
	if !admin {
		t.Fatal("seed must contain an admin account")
	}
	if len(svc.GetOffDays()) == 0 {
		t.Fatal("empty cache should seed off days")
	}
	if len(svc.GetProductionData()) != 0 {
		t.Fatal("production should start empty, not seeded")
	}
	if len(svc.GetLogs()) != 0 {
		t.Fatal("logs should start empty")
	}
}

func TestSeedReadsDoNotPersist(t *testing.T) {
	svc, cache := newTestService(t, nil, newFakeClock(), ServiceOptions{})

	if len(svc.GetUsers()) == 0 || len(svc.GetOffDays()) == 0 {
		t.Fatal("seeds should be handed out")
	}
	if cache.Get(CacheKeyUsers) != nil {
		t.Fatal("reading seeded users must not write the cache")
	}
	if cache.Get(CacheKeyOffDays) != nil {
		t.Fatal("reading seeded off days must not write the cache")
	}
}

func TestSaveProductionNormalizesAndMirrors(t *testing.T) {
	fixture := newSheetsFixture()
	clock := newFakeClock()
	svc, _ := newTestService(t, fixture, clock, ServiceOptions{})

	saved, err := svc.SaveProductionData(context.Background(), []ProductionEntry{{
		Date:           "2025-03-04 08:00:00",
		ProductName:    "Gel Paste",
		PlanQuantity:   100,
		ActualQuantity: 40,
		Unit:           "pcs",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if saved[0].Date != "2025-03-04" || saved[0].Unit != "PCS" || saved[0].Status != StatusCompleted {
		t.Fatalf("entry not normalized: %+v", saved[0])
	}
	if !svc.WriteLocked() {
		t.Fatal("local write should open the write lock")
	}
	if fixture.savedCount(ActionSaveProduction) != 1 {
		t.Fatal("save should mirror to the endpoint")
	}
	reloaded := svc.GetProductionData()
	if len(reloaded) != 1 || reloaded[0].ID != saved[0].ID {
		t.Fatalf("entry not persisted: %+v", reloaded)
	}
}

func TestSaveProductionDropsDatelessEntries(t *testing.T) {
	svc, _ := newTestService(t, nil, newFakeClock(), ServiceOptions{})
	saved, err := svc.SaveProductionData(context.Background(), []ProductionEntry{
		{ProductName: "No Date"},
		{Date: "2025-03-04", ProductName: "Keep"},
		{Date: "someday", ProductName: "Bad Date"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 || saved[0].ProductName != "Keep" {
		t.Fatalf("dateless entries should be dropped, rest kept: %+v", saved)
	}
	if got := svc.GetProductionData(); len(got) != 1 {
		t.Fatalf("persisted table should hold only the valid entry, got %d", len(got))
	}
}

func TestSaveOffDaysDropsDatelessEntries(t *testing.T) {
	svc, _ := newTestService(t, nil, newFakeClock(), ServiceOptions{})
	saved, err := svc.SaveOffDays(context.Background(), []OffDay{
		{Description: "No Date", Type: "Off Day"},
		{Date: "2025-03-09", Description: "Maintenance", Type: "Off Day"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 || saved[0].Date != "2025-03-09" {
		t.Fatalf("dateless off days should be dropped: %+v", saved)
	}
}

func TestAddPlanEntryRejectsInvalidDate(t *testing.T) {
	// Unlike batch saves, a single plan entry with a bad date is a caller
	// error the operator needs to see.
	svc, _ := newTestService(t, nil, newFakeClock(), ServiceOptions{})
	_, err := svc.AddPlanEntry(context.Background(), ProductionEntry{ProductName: "X"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRecordActual(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(t, newSheetsFixture(), clock, ServiceOptions{})

	plan, err := svc.AddPlanEntry(context.Background(), ProductionEntry{
		Date:         "2025-03-04",
		ProductName:  "Gel Paste",
		PlanQuantity: 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Status != StatusInProgress {
		t.Fatalf("fresh plan should be In Progress, got %q", plan.Status)
	}

	clock.Advance(time.Hour)
	updated, err := svc.RecordActual(context.Background(), plan.ID, ActualUpdate{
		ActualQuantity: 95,
		Manpower:       4,
		ActualRemark:   "ran clean",
		UpdatedBy:      "Umaira",
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("actual>0 should complete the entry, got %q", updated.Status)
	}
	if updated.UpdatedAt != DBTimestamp(clock.Now()) {
		t.Fatalf("updatedAt not restamped: %q", updated.UpdatedAt)
	}
	if updated.LastUpdatedBy != "Umaira" || updated.Manpower != 4 {
		t.Fatalf("report fields not applied: %+v", updated)
	}

	if _, err := svc.RecordActual(context.Background(), "nope", ActualUpdate{ActualQuantity: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteProductionEntry(t *testing.T) {
	svc, _ := newTestService(t, newSheetsFixture(), newFakeClock(), ServiceOptions{})
	plan, err := svc.AddPlanEntry(context.Background(), ProductionEntry{Date: "2025-03-04", ProductName: "X"})
	if err != nil {
		t.Fatal(err)
	}

	remaining, removed := svc.DeleteProductionEntry(context.Background(), plan.ID)
	if removed == nil || removed.ID != plan.ID {
		t.Fatalf("expected deleted entry, got %+v", removed)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected empty table, got %d", len(remaining))
	}

	_, removed = svc.DeleteProductionEntry(context.Background(), "missing")
	if removed != nil {
		t.Fatal("deleting a missing id should report nil")
	}
}

func TestAddLogPrependsAndCaps(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(t, newSheetsFixture(), clock, ServiceOptions{LogRetention: 3})

	for _, action := range []string{"FIRST", "SECOND", "THIRD", "FOURTH"} {
		svc.AddLog(context.Background(), ActivityLog{UserID: "u1", UserName: "Idham", Action: action})
		clock.Advance(time.Second)
	}

	logs := svc.GetLogs()
	if len(logs) != 3 {
		t.Fatalf("retention cap not applied, got %d", len(logs))
	}
	if logs[0].Action != "FOURTH" {
		t.Fatalf("newest log should be first, got %q", logs[0].Action)
	}
	for _, l := range logs {
		if l.Action == "FIRST" {
			t.Fatal("oldest log should have been trimmed")
		}
	}
}

func TestSyncSkipsProductionWhileLocked(t *testing.T) {
	fixture := newSheetsFixture()
	fixture.respond(ActionGetProduction, `[{"id":"remote1","date":"2025-03-04","productName":"Remote","updatedAt":"2025-03-04 09:00:00"}]`)
	fixture.respond(ActionGetUsers, `[]`)
	fixture.respond(ActionGetOffDays, `[]`)
	fixture.respond(ActionGetLogs, `[]`)

	clock := newFakeClock()
	svc, _ := newTestService(t, fixture, clock, ServiceOptions{})

	local, err := svc.AddPlanEntry(context.Background(), ProductionEntry{Date: "2025-03-04", ProductName: "Local"})
	if err != nil {
		t.Fatal(err)
	}

	result := svc.SyncWithSheets(context.Background())
	if !result.ProductionSkipped {
		t.Fatal("sync inside the lock window must skip the production pull")
	}
	entries := svc.GetProductionData()
	if len(entries) != 1 || entries[0].ID != local.ID {
		t.Fatalf("locked sync must not touch production, got %+v", entries)
	}

	clock.Advance(time.Minute)
	result = svc.SyncWithSheets(context.Background())
	if result.ProductionSkipped {
		t.Fatal("lock should have expired")
	}
	entries = svc.GetProductionData()
	if len(entries) != 2 {
		t.Fatalf("expected merged local+remote, got %d entries", len(entries))
	}
}

func TestSyncDropsStaleLocalOnlyEntries(t *testing.T) {
	fixture := newSheetsFixture()
	fixture.respond(ActionGetProduction, `[]`)

	clock := newFakeClock()
	svc, _ := newTestService(t, fixture, clock, ServiceOptions{})

	if _, err := svc.AddPlanEntry(context.Background(), ProductionEntry{Date: "2025-03-04", ProductName: "Ghost"}); err != nil {
		t.Fatal(err)
	}

	// Older than the grace period and absent remotely: deleted elsewhere.
	clock.Advance(10 * time.Minute)
	svc.SyncWithSheets(context.Background())
	if got := svc.GetProductionData(); len(got) != 0 {
		t.Fatalf("stale local-only entry should be dropped, got %+v", got)
	}
}

func TestSyncFetchFailureLeavesProductionAlone(t *testing.T) {
	fixture := newSheetsFixture() // no canned responses: every fetch 404s
	clock := newFakeClock()
	svc, _ := newTestService(t, fixture, clock, ServiceOptions{})

	if _, err := svc.AddPlanEntry(context.Background(), ProductionEntry{Date: "2025-03-04", ProductName: "Keep"}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(10 * time.Minute)

	result := svc.SyncWithSheets(context.Background())
	if !result.Synced {
		t.Fatal("sync should still run")
	}
	if len(result.UpdatedTables) != 0 {
		t.Fatalf("failed fetches must not update tables, got %v", result.UpdatedTables)
	}
	if got := svc.GetProductionData(); len(got) != 1 {
		t.Fatalf("production must be untouched on fetch failure, got %d", len(got))
	}
}

func TestSyncAdoptsRemoteUsersWhenNotSmaller(t *testing.T) {
	fixture := newSheetsFixture()
	fixture.respond(ActionGetUsers, `[
		{"id":"r1","username":"a","role":"admin"},
		{"id":"r2","username":"b","role":"manager"},
		{"id":"r3","username":"c","role":"planner"},
		{"id":"r4","username":"d","role":"operator"},
		{"id":"r5","username":"e","role":"operator"},
		{"id":"r6","username":"f","role":"operator"}
	]`)
	clock := newFakeClock()
	svc, _ := newTestService(t, fixture, clock, ServiceOptions{})

	svc.SyncWithSheets(context.Background())
	users := svc.GetUsers()
	if len(users) != 6 {
		t.Fatalf("remote user table with >= records should be adopted, got %d", len(users))
	}

	// A smaller remote table is ignored: it would drop local accounts.
	fixture.respond(ActionGetUsers, `[{"id":"r1","username":"a","role":"admin"}]`)
	svc.SyncWithSheets(context.Background())
	if got := svc.GetUsers(); len(got) != 6 {
		t.Fatalf("smaller remote user table must be ignored, got %d", len(got))
	}
}

func TestSyncAdoptsOffDaysWhenNonEmpty(t *testing.T) {
	fixture := newSheetsFixture()
	fixture.respond(ActionGetOffDays, `[{"id":"od9","date":"2025-08-31","description":"Merdeka Day","type":"Public Holiday"}]`)
	clock := newFakeClock()
	svc, _ := newTestService(t, fixture, clock, ServiceOptions{})

	svc.SyncWithSheets(context.Background())
	days := svc.GetOffDays()
	if len(days) != 1 || days[0].ID != "od9" {
		t.Fatalf("non-empty remote off days should replace local, got %+v", days)
	}

	fixture.respond(ActionGetOffDays, `[]`)
	svc.SyncWithSheets(context.Background())
	if got := svc.GetOffDays(); len(got) != 1 {
		t.Fatalf("empty remote off days must be ignored, got %d", len(got))
	}
}

func TestSyncMergesLogsNewestFirst(t *testing.T) {
	fixture := newSheetsFixture()
	fixture.respond(ActionGetLogs, `[{"id":"r1","timestamp":"2025-03-04 09:00:00","action":"REMOTE"}]`)
	clock := newFakeClock()
	svc, _ := newTestService(t, fixture, clock, ServiceOptions{})

	svc.AddLog(context.Background(), ActivityLog{UserID: "u1", UserName: "Idham", Action: "LOCAL"})
	svc.SyncWithSheets(context.Background())

	logs := svc.GetLogs()
	if len(logs) != 2 {
		t.Fatalf("expected merged logs, got %d", len(logs))
	}
	if logs[0].Action != "LOCAL" {
		t.Fatalf("logs should sort newest first, got %q", logs[0].Action)
	}
}

func TestSyncDisabledWithoutEndpoint(t *testing.T) {
	svc, _ := newTestService(t, nil, newFakeClock(), ServiceOptions{})
	result := svc.SyncWithSheets(context.Background())
	if result.Synced {
		t.Fatal("sync without an endpoint should be a no-op")
	}
}

func TestWriteLockSurvivesRestart(t *testing.T) {
	clock := newFakeClock()
	cache := NewCache(NewInMemoryCacheBackend(), nil)
	gateway := NewSheetsGateway(func() string { return "" })

	svc := NewServiceWithOptions(cache, gateway, ServiceOptions{Now: clock.Now})
	if _, err := svc.AddPlanEntry(context.Background(), ProductionEntry{Date: "2025-03-04", ProductName: "X"}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(10 * time.Second)
	restarted := NewServiceWithOptions(cache, gateway, ServiceOptions{Now: clock.Now})
	if !restarted.WriteLocked() {
		t.Fatal("write lock should be restored from the persisted stamp")
	}

	clock.Advance(time.Minute)
	if restarted.WriteLocked() {
		t.Fatal("restored lock should still expire")
	}
}

func TestMonthlyStats(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(t, nil, clock, ServiceOptions{})

	_, err := svc.SaveProductionData(context.Background(), []ProductionEntry{
		{Date: "2025-03-01", ProductName: "A", PlanQuantity: 100, ActualQuantity: 50, Manpower: 3},
		{Date: "2025-03-02", ProductName: "B", PlanQuantity: 200, ActualQuantity: 200, Manpower: 5},
		{Date: "2025-04-01", ProductName: "C", PlanQuantity: 999, ActualQuantity: 999, Manpower: 9},
	})
	if err != nil {
		t.Fatal(err)
	}

	stats := svc.MonthlyStats("2025-03")
	if stats.TotalPlan != 300 || stats.TotalActual != 250 || stats.TotalManpower != 8 {
		t.Fatalf("wrong totals: %+v", stats)
	}
	if stats.AvgEfficiency != 75.0 {
		t.Fatalf("wrong efficiency: %v", stats.AvgEfficiency)
	}

	// Default month comes from the clock (March 2025).
	if got := svc.MonthlyStats(""); got.TotalPlan != 300 {
		t.Fatalf("default month should be current, got %+v", got)
	}
}

func TestResolveOffDay(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(t, nil, clock, ServiceOptions{})

	// 2025-03-09 is a Sunday; a manual record still makes it an off day.
	if _, err := svc.SaveOffDays(context.Background(), []OffDay{
		{Date: "2025-03-09", Description: "Maintenance", Type: "Off Day", CreatedBy: "u1"},
	}); err != nil {
		t.Fatal(err)
	}

	resolved, isOff := svc.ResolveOffDay("2025-03-09")
	if !isOff || resolved.Source != "manual" {
		t.Fatalf("manual record should resolve, got %+v", resolved)
	}

	resolved, isOff = svc.ResolveOffDay("2025-03-07")
	if !isOff || resolved.Source != "weekly" || resolved.Type != OffDayRestDay {
		t.Fatalf("Friday should resolve via weekly rule, got %+v", resolved)
	}

	if _, isOff = svc.ResolveOffDay("2025-03-04"); isOff {
		t.Fatal("plain Tuesday should not be an off day")
	}

	if _, isOff = svc.ResolveOffDay("garbage"); isOff {
		t.Fatal("invalid date should not resolve")
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t, nil, newFakeClock(), ServiceOptions{})

	user, err := svc.Authenticate("idham", "admin123")
	if err != nil {
		t.Fatalf("seeded admin should authenticate case-insensitively: %v", err)
	}
	if user.Role != RoleAdmin {
		t.Fatalf("wrong role %q", user.Role)
	}

	if _, err := svc.Authenticate("Idham", "wrong"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("wrong password should fail, got %v", err)
	}
	if _, err := svc.Authenticate("", ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("blank credentials should fail, got %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	svc, _ := newTestService(t, nil, newFakeClock(), ServiceOptions{})

	if svc.GetSession() != nil {
		t.Fatal("no session stored yet")
	}
	svc.SetSession(json.RawMessage(`{"userId":"u1"}`))
	if got := string(svc.GetSession()); got != `{"userId":"u1"}` {
		t.Fatalf("session not stored, got %q", got)
	}
	svc.SetSession(nil)
	if svc.GetSession() != nil {
		t.Fatal("session should be cleared")
	}
}

func TestChangeListenerFires(t *testing.T) {
	svc, _ := newTestService(t, nil, newFakeClock(), ServiceOptions{})

	var mu sync.Mutex
	var tables []string
	svc.SetChangeListener(func(table string) {
		mu.Lock()
		tables = append(tables, table)
		mu.Unlock()
	})

	if _, err := svc.AddPlanEntry(context.Background(), ProductionEntry{Date: "2025-03-04", ProductName: "X"}); err != nil {
		t.Fatal(err)
	}
	svc.AddLog(context.Background(), ActivityLog{UserID: "u1", UserName: "Idham", Action: "TEST"})

	mu.Lock()
	defer mu.Unlock()
	if len(tables) != 2 || tables[0] != TableProduction || tables[1] != TableLogs {
		t.Fatalf("unexpected notifications: %v", tables)
	}
}

func TestSaveUsersValidation(t *testing.T) {
	svc, _ := newTestService(t, nil, newFakeClock(), ServiceOptions{})

	if _, err := svc.SaveUsers(context.Background(), nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty user list should be rejected, got %v", err)
	}
	if _, err := svc.SaveUsers(context.Background(), []User{{Name: "No Username"}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("user without username should be rejected, got %v", err)
	}

	saved, err := svc.SaveUsers(context.Background(), []User{{Username: "new", Role: "PLANNER"}})
	if err != nil {
		t.Fatal(err)
	}
	if saved[0].ID == "" {
		t.Fatal("missing id should be assigned")
	}
	if saved[0].Role != RolePlanner {
		t.Fatalf("role should normalize, got %q", saved[0].Role)
	}
}
