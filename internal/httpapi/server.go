package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/halagel/prodtrack/internal/prodtrack"
)

type ServerConfig struct {
	// SessionSecret signs API tokens.
	SessionSecret string
	// SessionTTL bounds token lifetime.
	SessionTTL time.Duration
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
}

type Server struct {
	svc *prodtrack.Service
	cfg ServerConfig
	hub *EventHub
}

func NewServer(svc *prodtrack.Service) *Server {
	return NewServerWithConfig(svc, ServerConfig{})
}

func NewServerWithConfig(svc *prodtrack.Service, cfg ServerConfig) *Server {
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = "dev-secret"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	s := &Server{
		svc: svc,
		cfg: cfg,
		hub: NewEventHub(),
	}
	svc.SetChangeListener(s.publishChange)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"cloudEnabled": s.svc.CloudEnabled(),
		})
		return
	}
	if (r.URL.Path == "/" || r.URL.Path == "/dashboard") && r.Method == http.MethodGet {
		s.handleDashboard(w, r)
		return
	}
	if r.URL.Path == "/v1/auth/login" && r.Method == http.MethodPost {
		s.handleLogin(w, r)
		return
	}
	if r.URL.Path == "/v1/events/ws" && r.Method == http.MethodGet {
		s.handleEventsWS(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}

	var requiredScope string
	var route string
	switch {
	case len(parts) == 2 && parts[1] == "users" && r.Method == http.MethodGet:
		requiredScope = "users:read"
		route = "users_list"
	case len(parts) == 2 && parts[1] == "users" && r.Method == http.MethodPut:
		requiredScope = "users:write"
		route = "users_save"
	case len(parts) == 2 && parts[1] == "production" && r.Method == http.MethodGet:
		requiredScope = "production:read"
		route = "production_list"
	case len(parts) == 2 && parts[1] == "production" && r.Method == http.MethodPut:
		requiredScope = "production:write"
		route = "production_save"
	case len(parts) == 2 && parts[1] == "production" && r.Method == http.MethodPost:
		requiredScope = "production:write"
		route = "production_plan"
	case len(parts) == 3 && parts[1] == "production" && r.Method == http.MethodDelete:
		requiredScope = "production:write"
		route = "production_delete"
	case len(parts) == 4 && parts[1] == "production" && parts[3] == "actual" && r.Method == http.MethodPost:
		requiredScope = "production:actual"
		route = "production_actual"
	case len(parts) == 2 && parts[1] == "offdays" && r.Method == http.MethodGet:
		requiredScope = "offdays:read"
		route = "offdays_list"
	case len(parts) == 2 && parts[1] == "offdays" && r.Method == http.MethodPut:
		requiredScope = "offdays:write"
		route = "offdays_save"
	case len(parts) == 3 && parts[1] == "offdays" && parts[2] == "resolve" && r.Method == http.MethodGet:
		requiredScope = "offdays:read"
		route = "offdays_resolve"
	case len(parts) == 2 && parts[1] == "logs" && r.Method == http.MethodGet:
		requiredScope = "logs:read"
		route = "logs_list"
	case len(parts) == 2 && parts[1] == "logs" && r.Method == http.MethodPost:
		requiredScope = "logs:write"
		route = "logs_add"
	case len(parts) == 2 && parts[1] == "stats" && r.Method == http.MethodGet:
		requiredScope = "stats:read"
		route = "stats"
	case len(parts) == 2 && parts[1] == "sync" && r.Method == http.MethodPost:
		requiredScope = "sync:trigger"
		route = "sync_trigger"
	case len(parts) == 3 && parts[1] == "sync" && parts[2] == "status" && r.Method == http.MethodGet:
		requiredScope = "sync:read"
		route = "sync_status"
	case len(parts) == 2 && parts[1] == "session" && r.Method == http.MethodGet:
		requiredScope = "session:read"
		route = "session_get"
	case len(parts) == 2 && parts[1] == "session" && r.Method == http.MethodPut:
		requiredScope = "session:write"
		route = "session_set"
	case len(parts) == 2 && parts[1] == "session" && r.Method == http.MethodDelete:
		requiredScope = "session:write"
		route = "session_clear"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}

	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.SessionSecret, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}

	switch route {
	case "users_list":
		s.handleUsersList(w)
	case "users_save":
		s.handleUsersSave(w, r, claims)
	case "production_list":
		s.handleProductionList(w)
	case "production_save":
		s.handleProductionSave(w, r, claims)
	case "production_plan":
		s.handleProductionPlan(w, r, claims)
	case "production_delete":
		s.handleProductionDelete(w, r, parts[2], claims)
	case "production_actual":
		s.handleProductionActual(w, r, parts[2], claims)
	case "offdays_list":
		writeJSON(w, http.StatusOK, s.svc.GetOffDays())
	case "offdays_save":
		s.handleOffDaysSave(w, r, claims)
	case "offdays_resolve":
		s.handleOffDayResolve(w, r)
	case "logs_list":
		s.handleLogsList(w, r)
	case "logs_add":
		s.handleLogAdd(w, r, claims)
	case "stats":
		s.handleStats(w, r)
	case "sync_trigger":
		s.handleSyncTrigger(w, r)
	case "sync_status":
		s.handleSyncStatus(w)
	case "session_get":
		s.handleSessionGet(w)
	case "session_set":
		s.handleSessionSet(w, r)
	case "session_clear":
		s.svc.SetSession(nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if err := validateBody(apiSchemas.login, body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid login body")
		return
	}
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(body, &creds); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	user, err := s.svc.Authenticate(creds.Username, creds.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}
	token, exp, err := issueToken(s.cfg.SessionSecret, user, s.cfg.SessionTTL, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.svc.AddLog(r.Context(), prodtrack.ActivityLog{
		UserID:   user.ID,
		UserName: user.Name,
		Action:   "LOGIN",
		Details:  "signed in via api",
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"expiresAt": exp,
		"user":      sanitizeUser(user),
	})
}

func (s *Server) handleUsersList(w http.ResponseWriter) {
	users := s.svc.GetUsers()
	out := make([]prodtrack.User, 0, len(users))
	for _, u := range users {
		out = append(out, sanitizeUser(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUsersSave(w http.ResponseWriter, r *http.Request, claims tokenClaims) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if err := validateBody(apiSchemas.users, body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid user list: "+err.Error())
		return
	}
	var users []prodtrack.User
	if err := json.Unmarshal(body, &users); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	saved, err := s.svc.SaveUsers(r.Context(), users)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.svc.AddLog(r.Context(), prodtrack.ActivityLog{
		UserID:   claims.UserID,
		UserName: claims.Name,
		Action:   "UPDATE_USERS",
		Details:  "saved " + strconv.Itoa(len(saved)) + " users",
	})
	out := make([]prodtrack.User, 0, len(saved))
	for _, u := range saved {
		out = append(out, sanitizeUser(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProductionList(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, s.svc.GetProductionData())
}

func (s *Server) handleProductionSave(w http.ResponseWriter, r *http.Request, claims tokenClaims) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if err := validateBody(apiSchemas.production, body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid production list: "+err.Error())
		return
	}
	var entries []prodtrack.ProductionEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	for i := range entries {
		if entries[i].LastUpdatedBy == "" {
			entries[i].LastUpdatedBy = claims.Name
		}
	}
	saved, err := s.svc.SaveProductionData(r.Context(), entries)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleProductionPlan(w http.ResponseWriter, r *http.Request, claims tokenClaims) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if err := validateBody(apiSchemas.plan, body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid plan entry: "+err.Error())
		return
	}
	var entry prodtrack.ProductionEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	entry.LastUpdatedBy = claims.Name
	saved, err := s.svc.AddPlanEntry(r.Context(), entry)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.svc.AddLog(r.Context(), prodtrack.ActivityLog{
		UserID:   claims.UserID,
		UserName: claims.Name,
		Action:   "ADD_PLAN",
		Details:  saved.ProductName + " on " + saved.Date,
	})
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleProductionDelete(w http.ResponseWriter, r *http.Request, id string, claims tokenClaims) {
	remaining, removed := s.svc.DeleteProductionEntry(r.Context(), id)
	if removed == nil {
		writeError(w, http.StatusNotFound, "not_found", "production entry not found")
		return
	}
	s.svc.AddLog(r.Context(), prodtrack.ActivityLog{
		UserID:   claims.UserID,
		UserName: claims.Name,
		Action:   "DELETE_PLAN",
		Details:  removed.ProductName + " on " + removed.Date,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":   removed,
		"remaining": len(remaining),
	})
}

func (s *Server) handleProductionActual(w http.ResponseWriter, r *http.Request, id string, claims tokenClaims) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if err := validateBody(apiSchemas.actual, body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid actual report: "+err.Error())
		return
	}
	var report struct {
		ActualQuantity int    `json:"actualQuantity"`
		Manpower       int    `json:"manpower"`
		ActualRemark   string `json:"actualRemark"`
		BatchNo        string `json:"batchNo"`
	}
	if err := json.Unmarshal(body, &report); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	updated, err := s.svc.RecordActual(r.Context(), id, prodtrack.ActualUpdate{
		ActualQuantity: report.ActualQuantity,
		Manpower:       report.Manpower,
		ActualRemark:   report.ActualRemark,
		BatchNo:        report.BatchNo,
		UpdatedBy:      claims.Name,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.svc.AddLog(r.Context(), prodtrack.ActivityLog{
		UserID:   claims.UserID,
		UserName: claims.Name,
		Action:   "RECORD_ACTUAL",
		Details:  updated.ProductName + ": " + strconv.Itoa(updated.ActualQuantity) + " " + updated.Unit,
	})
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleOffDaysSave(w http.ResponseWriter, r *http.Request, claims tokenClaims) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if err := validateBody(apiSchemas.offDays, body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid off-day list: "+err.Error())
		return
	}
	var days []prodtrack.OffDay
	if err := json.Unmarshal(body, &days); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	for i := range days {
		if days[i].CreatedBy == "" {
			days[i].CreatedBy = claims.UserID
		}
	}
	saved, err := s.svc.SaveOffDays(r.Context(), days)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleOffDayResolve(w http.ResponseWriter, r *http.Request) {
	date := prodtrack.DateOnly(r.URL.Query().Get("date"))
	if !prodtrack.IsValidISODate(date) {
		writeError(w, http.StatusBadRequest, "bad_request", "date must be YYYY-MM-DD")
		return
	}
	resolved, isOff := s.svc.ResolveOffDay(date)
	if !isOff {
		writeJSON(w, http.StatusOK, map[string]any{"date": date, "offDay": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":        resolved.Date,
		"offDay":      true,
		"type":        resolved.Type,
		"description": resolved.Description,
		"source":      resolved.Source,
	})
}

func (s *Server) handleLogsList(w http.ResponseWriter, r *http.Request) {
	limit := parseBoundedInt(r.URL.Query().Get("limit"), 100, 1, prodtrack.DefaultLogRetention)
	logs := s.svc.GetLogs()
	if len(logs) > limit {
		logs = logs[:limit]
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleLogAdd(w http.ResponseWriter, r *http.Request, claims tokenClaims) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if err := validateBody(apiSchemas.logEntry, body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid log entry: "+err.Error())
		return
	}
	var entry prodtrack.ActivityLog
	if err := json.Unmarshal(body, &entry); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	entry.UserID = claims.UserID
	entry.UserName = claims.Name
	saved := s.svc.AddLog(r.Context(), entry)
	writeJSON(w, http.StatusCreated, saved)
}

var monthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	month := strings.TrimSpace(r.URL.Query().Get("month"))
	if month != "" && !monthPattern.MatchString(month) {
		writeError(w, http.StatusBadRequest, "bad_request", "month must be YYYY-MM")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.MonthlyStats(month))
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	result := s.svc.SyncWithSheets(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": s.svc.CloudEnabled(),
		"result":  result,
	})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter) {
	status := map[string]any{
		"cloudEnabled": s.svc.CloudEnabled(),
		"writeLocked":  s.svc.WriteLocked(),
	}
	if last := s.svc.LastWriteAt(); !last.IsZero() {
		status["lastWriteAt"] = prodtrack.DBTimestamp(last)
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSessionGet(w http.ResponseWriter) {
	session := s.svc.GetSession()
	if session == nil {
		writeError(w, http.StatusNotFound, "not_found", "no session stored")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(session)
}

func (s *Server) handleSessionSet(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "bad_request", "session must be valid json")
		return
	}
	s.svc.SetSession(body)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, prodtrack.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, prodtrack.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, prodtrack.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func sanitizeUser(u prodtrack.User) prodtrack.User {
	u.Password = ""
	return u
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	if parsed < min {
		return fallback
	}
	if parsed > max {
		return max
	}
	return parsed
}
