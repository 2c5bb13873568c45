package prodtrack

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Logical table names, used for change notifications and the event feed.
const (
	TableUsers      = "users"
	TableProduction = "production"
	TableOffDays    = "offDays"
	TableLogs       = "logs"
)

const (
	DefaultLogRetention   = 500
	defaultRemoteLogBatch = 50
)

// Service is the storage orchestrator: every read and write of dashboard
// data goes through it. Reads come from the local cache (seeding defaults
// where the cache is empty), writes land in the cache first and are then
// mirrored to the sheets endpoint best-effort, and SyncWithSheets folds
// remote state back in.
type Service struct {
	cache   *Cache
	gateway *SheetsGateway
	norm    *Normalizer
	lock    *WriteLock

	grace          time.Duration
	logRetention   int
	remoteLogBatch int
	now            func() time.Time
	logger         Logger

	// mu serializes read-modify-write cycles on cache tables; syncMu keeps
	// at most one sync pass in flight.
	mu     sync.Mutex
	syncMu sync.Mutex

	listenerMu sync.RWMutex
	onChange   func(table string)
}

type ServiceOptions struct {
	// SyncGrace is how long a local-only record survives reconciliation
	// before it is presumed deleted remotely.
	SyncGrace time.Duration
	// LockWindow is the pull-suppression window after a local write.
	LockWindow time.Duration
	// LogRetention caps the activity log table.
	LogRetention int
	Now          func() time.Time
	Logger       Logger
}

func NewService(cache *Cache, gateway *SheetsGateway) *Service {
	return NewServiceWithOptions(cache, gateway, ServiceOptions{})
}

func NewServiceWithOptions(cache *Cache, gateway *SheetsGateway, options ServiceOptions) *Service {
	if cache == nil {
		cache = NewCache(nil, options.Logger)
	}
	grace := options.SyncGrace
	if grace <= 0 {
		grace = DefaultSyncGrace
	}
	retention := options.LogRetention
	if retention <= 0 {
		retention = DefaultLogRetention
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	s := &Service{
		cache:          cache,
		gateway:        gateway,
		norm:           NewNormalizerWithOptions(NormalizerOptions{Now: now}),
		lock:           NewWriteLock(options.LockWindow),
		grace:          grace,
		logRetention:   retention,
		remoteLogBatch: defaultRemoteLogBatch,
		now:            now,
		logger:         options.Logger,
	}
	s.restoreWriteLock()
	return s
}

// SetChangeListener installs a callback fired after any table mutation,
// local or sync-driven. At most one listener; nil removes it.
func (s *Service) SetChangeListener(fn func(table string)) {
	s.listenerMu.Lock()
	s.onChange = fn
	s.listenerMu.Unlock()
}

func (s *Service) notify(table string) {
	s.listenerMu.RLock()
	fn := s.onChange
	s.listenerMu.RUnlock()
	if fn != nil {
		fn(table)
	}
}

// CloudEnabled reports whether a usable sheets endpoint is configured.
func (s *Service) CloudEnabled() bool {
	return s.gateway.IsEnabled()
}

// WriteLocked reports whether the pull-suppression window is currently open.
func (s *Service) WriteLocked() bool {
	return s.lock.Locked(s.now())
}

// LastWriteAt returns the time of the most recent local mutation (zero if
// none this process lifetime or restored from cache).
func (s *Service) LastWriteAt() time.Time {
	return s.lock.Last()
}

// --- users ---

func (s *Service) GetUsers() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadUsers()
}

func (s *Service) SaveUsers(ctx context.Context, users []User) ([]User, error) {
	if len(users) == 0 {
		// An empty user table would lock every device out.
		return nil, fmt.Errorf("%w: user list must not be empty", ErrInvalidInput)
	}
	now := s.now()
	normalized := make([]User, 0, len(users))
	for i, u := range users {
		nu := s.norm.User(u)
		if nu.Username == "" {
			return nil, fmt.Errorf("%w: user %d has no username", ErrInvalidInput, i)
		}
		if nu.ID == "" {
			nu.ID = "u" + timeID(now) + "-" + strconv.Itoa(i)
		}
		normalized = append(normalized, nu)
	}
	s.mu.Lock()
	s.storeUsers(normalized)
	s.markWriteLocked()
	s.mu.Unlock()
	s.forward(ctx, ActionSaveUsers, normalized)
	s.notify(TableUsers)
	return normalized, nil
}

// Authenticate resolves a username/password pair against the user table.
// Username matching is case-insensitive; passwords are not.
func (s *Service) Authenticate(username, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return User{}, ErrUnauthenticated
	}
	for _, u := range s.GetUsers() {
		if strings.EqualFold(u.Username, username) && u.Password == password {
			return u, nil
		}
	}
	return User{}, ErrUnauthenticated
}

// --- production ---

func (s *Service) GetProductionData() []ProductionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadProduction()
}

func (s *Service) SaveProductionData(ctx context.Context, entries []ProductionEntry) ([]ProductionEntry, error) {
	normalized := make([]ProductionEntry, 0, len(entries))
	for _, e := range entries {
		ne := s.norm.Production(e)
		// Records without a usable date are dropped, not fatal: a batch save
		// keeps whatever rows survived normalization.
		if !IsValidISODate(ne.Date) {
			s.logf("dropping production entry %q: no valid date", ne.ID)
			continue
		}
		normalized = append(normalized, ne)
	}
	s.mu.Lock()
	s.storeProduction(normalized)
	s.markWriteLocked()
	s.mu.Unlock()
	s.forward(ctx, ActionSaveProduction, normalized)
	s.notify(TableProduction)
	return normalized, nil
}

// AddPlanEntry appends one planned job to the production table.
func (s *Service) AddPlanEntry(ctx context.Context, entry ProductionEntry) (ProductionEntry, error) {
	ne := s.norm.Production(entry)
	if !IsValidISODate(ne.Date) {
		return ProductionEntry{}, fmt.Errorf("%w: plan entry needs a YYYY-MM-DD date", ErrInvalidInput)
	}
	s.mu.Lock()
	entries := append(s.loadProduction(), ne)
	s.storeProduction(entries)
	s.markWriteLocked()
	s.mu.Unlock()
	s.forward(ctx, ActionSaveProduction, entries)
	s.notify(TableProduction)
	return ne, nil
}

// ActualUpdate carries the operator-entered result for a planned job.
type ActualUpdate struct {
	ActualQuantity int
	Manpower       int
	ActualRemark   string
	BatchNo        string
	UpdatedBy      string
}

// RecordActual applies an actual-output report to an existing plan entry.
// The status is re-derived from the reported quantity.
func (s *Service) RecordActual(ctx context.Context, id string, update ActualUpdate) (ProductionEntry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ProductionEntry{}, ErrInvalidInput
	}
	s.mu.Lock()
	entries := s.loadProduction()
	idx := -1
	for i := range entries {
		if entries[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ProductionEntry{}, ErrNotFound
	}
	e := entries[idx]
	e.ActualQuantity = update.ActualQuantity
	if update.Manpower > 0 {
		e.Manpower = update.Manpower
	}
	e.ActualRemark = update.ActualRemark
	if strings.TrimSpace(update.BatchNo) != "" {
		e.BatchNo = update.BatchNo
	}
	e.LastUpdatedBy = update.UpdatedBy
	e.UpdatedAt = DBTimestamp(s.now())
	e.Status = "" // force re-derivation from the reported quantity
	e = s.norm.Production(e)
	entries[idx] = e
	s.storeProduction(entries)
	s.markWriteLocked()
	s.mu.Unlock()
	s.forward(ctx, ActionSaveProduction, entries)
	s.notify(TableProduction)
	return e, nil
}

// DeleteProductionEntry removes one entry by id, returning the remaining
// table and the removed entry (nil when the id was not present).
func (s *Service) DeleteProductionEntry(ctx context.Context, id string) ([]ProductionEntry, *ProductionEntry) {
	s.mu.Lock()
	entries := s.loadProduction()
	var removed *ProductionEntry
	kept := make([]ProductionEntry, 0, len(entries))
	for _, e := range entries {
		if e.ID == id && removed == nil {
			cp := e
			removed = &cp
			continue
		}
		kept = append(kept, e)
	}
	if removed == nil {
		s.mu.Unlock()
		return entries, nil
	}
	s.storeProduction(kept)
	s.markWriteLocked()
	s.mu.Unlock()
	s.forward(ctx, ActionSaveProduction, kept)
	s.notify(TableProduction)
	return kept, removed
}

// MonthlyStats aggregates the production table for one YYYY-MM month
// (defaulting to the current month). Efficiency is the mean of per-entry
// actual/plan percentages over entries that have a plan.
func (s *Service) MonthlyStats(month string) DashboardStats {
	month = strings.TrimSpace(month)
	if month == "" {
		month = MonthISO(s.now())
	}
	prefix := month + "-"
	var stats DashboardStats
	var effSum float64
	var effCount int
	for _, e := range s.GetProductionData() {
		if !strings.HasPrefix(e.Date, prefix) {
			continue
		}
		stats.TotalPlan += e.PlanQuantity
		stats.TotalActual += e.ActualQuantity
		stats.TotalManpower += e.Manpower
		if e.PlanQuantity > 0 {
			effSum += float64(e.ActualQuantity) / float64(e.PlanQuantity) * 100
			effCount++
		}
	}
	if effCount > 0 {
		stats.AvgEfficiency = math.Round(effSum/float64(effCount)*10) / 10
	}
	return stats
}

// --- off days ---

func (s *Service) GetOffDays() []OffDay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadOffDays()
}

func (s *Service) SaveOffDays(ctx context.Context, days []OffDay) ([]OffDay, error) {
	normalized := make([]OffDay, 0, len(days))
	for _, d := range days {
		nd := s.norm.OffDay(d)
		if !IsValidISODate(nd.Date) {
			s.logf("dropping off day %q: no valid date", nd.ID)
			continue
		}
		normalized = append(normalized, nd)
	}
	s.mu.Lock()
	s.storeOffDays(normalized)
	s.markWriteLocked()
	s.mu.Unlock()
	s.forward(ctx, ActionSaveOffDays, normalized)
	s.notify(TableOffDays)
	return normalized, nil
}

// ResolveOffDay reports whether a date is an off day, with manual records
// taking precedence over the weekly Friday/Saturday rule.
func (s *Service) ResolveOffDay(date string) (EffectiveOffDay, bool) {
	date = DateOnly(date)
	if !IsValidISODate(date) {
		return EffectiveOffDay{}, false
	}
	for _, d := range s.GetOffDays() {
		if d.Date == date {
			return EffectiveOffDay{Date: date, Type: d.Type, Description: d.Description, Source: "manual"}, true
		}
	}
	if t, ok := WeeklyOffDayType(date); ok {
		return EffectiveOffDay{Date: date, Type: t, Source: "weekly"}, true
	}
	return EffectiveOffDay{}, false
}

// --- activity logs ---

func (s *Service) GetLogs() []ActivityLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLogs()
}

// AddLog records one activity entry, newest first, trimming the table to the
// retention cap. A bounded newest-first batch is mirrored to the endpoint.
func (s *Service) AddLog(ctx context.Context, entry ActivityLog) ActivityLog {
	normalized := s.norm.Log(entry)
	s.mu.Lock()
	logs := append([]ActivityLog{normalized}, s.loadLogs()...)
	if len(logs) > s.logRetention {
		logs = logs[:s.logRetention]
	}
	s.storeLogs(logs)
	s.markWriteLocked()
	batch := logs
	if len(batch) > s.remoteLogBatch {
		batch = batch[:s.remoteLogBatch]
	}
	s.mu.Unlock()
	s.forward(ctx, ActionSaveLogs, batch)
	s.notify(TableLogs)
	return normalized
}

// --- session ---

// GetSession returns the persisted session document, nil when absent.
func (s *Service) GetSession() json.RawMessage {
	raw := s.cache.Get(CacheKeySession)
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return raw
}

// SetSession persists the session document; nil or empty clears it. The
// session is device-local state and never syncs.
func (s *Service) SetSession(session json.RawMessage) {
	if len(session) == 0 {
		s.cache.Delete(CacheKeySession)
		return
	}
	if !json.Valid(session) {
		return
	}
	s.cache.Set(CacheKeySession, session)
}

// --- sync ---

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Synced            bool     `json:"synced"`
	ProductionSkipped bool     `json:"productionSkipped"`
	UpdatedTables     []string `json:"updatedTables"`
	CompletedAt       string   `json:"completedAt,omitempty"`
}

// SyncWithSheets pulls all tables from the endpoint and folds them into the
// cache. Merge policy per table:
//
//   - production: per-record reconciliation (see Reconcile); skipped
//     entirely while the write lock is open, so a pull can never clobber a
//     just-made local edit;
//   - users: remote adopted wholesale when it has at least as many records
//     as local, so a freshly added local account survives until it mirrors;
//   - off days: remote adopted whenever non-empty;
//   - logs: per-record reconciliation, then re-sorted newest first and
//     trimmed to retention.
//
// Fetch failures leave the corresponding local table untouched.
func (s *Service) SyncWithSheets(ctx context.Context) SyncResult {
	var result SyncResult
	if s == nil || !s.gateway.IsEnabled() {
		return result
	}
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	now := s.now()
	locked := s.lock.Locked(now)
	result.ProductionSkipped = locked

	actions := []string{ActionGetUsers, ActionGetOffDays, ActionGetLogs}
	if !locked {
		actions = append(actions, ActionGetProduction)
	}
	fetched := make(map[string]json.RawMessage, len(actions))
	var fetchedMu sync.Mutex
	var wg sync.WaitGroup
	for _, action := range actions {
		wg.Add(1)
		go func(action string) {
			defer wg.Done()
			raw := s.gateway.FetchData(ctx, action)
			fetchedMu.Lock()
			fetched[action] = raw
			fetchedMu.Unlock()
		}(action)
	}
	wg.Wait()
	result.Synced = true

	updated := make([]string, 0, 4)
	s.mu.Lock()
	if rows, ok := decodeRows(fetched[ActionGetUsers]); ok {
		remote := make([]User, 0, len(rows))
		for _, row := range rows {
			u := s.norm.User(row)
			if u.Username != "" {
				remote = append(remote, u)
			}
		}
		if len(remote) > 0 && len(remote) >= len(s.loadUsers()) {
			s.storeUsers(remote)
			updated = append(updated, TableUsers)
		}
	}
	if !locked {
		if rows, ok := decodeRows(fetched[ActionGetProduction]); ok {
			remote := make([]ProductionEntry, 0, len(rows))
			for _, row := range rows {
				e := s.norm.Production(row)
				if IsValidISODate(e.Date) {
					remote = append(remote, e)
				}
			}
			merged := Reconcile(s.loadProduction(), remote, now, s.grace)
			s.storeProduction(merged)
			updated = append(updated, TableProduction)
		}
	}
	if rows, ok := decodeRows(fetched[ActionGetOffDays]); ok && len(rows) > 0 {
		remote := make([]OffDay, 0, len(rows))
		for _, row := range rows {
			d := s.norm.OffDay(row)
			if IsValidISODate(d.Date) {
				remote = append(remote, d)
			}
		}
		if len(remote) > 0 {
			s.storeOffDays(remote)
			updated = append(updated, TableOffDays)
		}
	}
	if rows, ok := decodeRows(fetched[ActionGetLogs]); ok {
		remote := make([]ActivityLog, 0, len(rows))
		for _, row := range rows {
			remote = append(remote, s.norm.Log(row))
		}
		merged := Reconcile(s.loadLogs(), remote, now, s.grace)
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Timestamp > merged[j].Timestamp
		})
		if len(merged) > s.logRetention {
			merged = merged[:s.logRetention]
		}
		s.storeLogs(merged)
		updated = append(updated, TableLogs)
	}
	s.mu.Unlock()

	for _, table := range updated {
		s.notify(table)
	}
	result.UpdatedTables = updated
	result.CompletedAt = DBTimestamp(now)
	return result
}

// --- internals ---

func (s *Service) loadUsers() []User {
	rows, ok := decodeRows(s.cache.Get(CacheKeyUsers))
	if ok && len(rows) > 0 {
		users := make([]User, 0, len(rows))
		for _, row := range rows {
			u := s.norm.User(row)
			if u.Username != "" {
				users = append(users, u)
			}
		}
		if len(users) > 0 {
			return users
		}
	}
	// The seed is only handed out, never written back: reads must not
	// mutate the snapshot.
	return SeedUsers()
}

func (s *Service) loadProduction() []ProductionEntry {
	rows, ok := decodeRows(s.cache.Get(CacheKeyProduction))
	if !ok {
		return []ProductionEntry{}
	}
	entries := make([]ProductionEntry, 0, len(rows))
	for _, row := range rows {
		e := s.norm.Production(row)
		if IsValidISODate(e.Date) {
			entries = append(entries, e)
		}
	}
	return entries
}

func (s *Service) loadOffDays() []OffDay {
	rows, ok := decodeRows(s.cache.Get(CacheKeyOffDays))
	if ok && len(rows) > 0 {
		days := make([]OffDay, 0, len(rows))
		for _, row := range rows {
			d := s.norm.OffDay(row)
			if IsValidISODate(d.Date) {
				days = append(days, d)
			}
		}
		if len(days) > 0 {
			return days
		}
	}
	return SeedOffDays()
}

func (s *Service) loadLogs() []ActivityLog {
	rows, ok := decodeRows(s.cache.Get(CacheKeyLogs))
	if !ok {
		return []ActivityLog{}
	}
	logs := make([]ActivityLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, s.norm.Log(row))
	}
	return logs
}

func (s *Service) storeUsers(users []User)             { s.storeTable(CacheKeyUsers, users) }
func (s *Service) storeProduction(e []ProductionEntry) { s.storeTable(CacheKeyProduction, e) }
func (s *Service) storeOffDays(days []OffDay)          { s.storeTable(CacheKeyOffDays, days) }
func (s *Service) storeLogs(logs []ActivityLog)        { s.storeTable(CacheKeyLogs, logs) }

func (s *Service) storeTable(key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logf("encode %s: %v", key, err)
		return
	}
	s.cache.Set(key, data)
}

// markWriteLocked stamps the write lock and persists the stamp so a restart
// inside the window keeps the pull suppressed. Callers hold s.mu.
func (s *Service) markWriteLocked() {
	now := s.now()
	s.lock.Mark(now)
	s.cache.Set(CacheKeyLastWrite, json.RawMessage(strconv.FormatInt(now.UnixMilli(), 10)))
}

func (s *Service) restoreWriteLock() {
	raw := s.cache.Get(CacheKeyLastWrite)
	if len(raw) == 0 {
		return
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		var str string
		if json.Unmarshal(raw, &str) != nil {
			return
		}
		parsed, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64)
		if err != nil {
			return
		}
		ms = parsed
	}
	s.lock.Restore(ms)
}

// forward mirrors one table to the endpoint, best-effort.
func (s *Service) forward(ctx context.Context, action string, value any) {
	if !s.gateway.IsEnabled() {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		s.logf("encode %s payload: %v", action, err)
		return
	}
	if !s.gateway.SaveData(ctx, action, data) {
		s.logf("mirror %s failed, will catch up on next sync", action)
	}
}

func (s *Service) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

// decodeRows extracts a row list from a raw JSON document: either a
// top-level array or an object wrapping one under "data".
func decodeRows(raw json.RawMessage) ([]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var direct []any
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, direct != nil
	}
	var wrapped struct {
		Data []any `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Data != nil {
		return wrapped.Data, true
	}
	return nil, false
}
