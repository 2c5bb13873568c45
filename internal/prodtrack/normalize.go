package prodtrack

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Spreadsheet rows arrive as positional arrays; local edits arrive as
// objects. The Normalizer is the single entry point that turns either shape
// into a fully-populated canonical record. It never fails: unusable input
// degrades to defaults, and records that are still structurally invalid
// afterwards (for example a production entry without a date) are filtered by
// the caller rather than rejected here.
type NormalizerOptions struct {
	// Sanitize is applied to free-text fields. The default strips control
	// characters and trims surrounding whitespace.
	Sanitize func(string) string
	Now      func() time.Time
}

type Normalizer struct {
	sanitize func(string) string
	now      func() time.Time
}

func NewNormalizer() *Normalizer {
	return NewNormalizerWithOptions(NormalizerOptions{})
}

func NewNormalizerWithOptions(opts NormalizerOptions) *Normalizer {
	sanitize := opts.Sanitize
	if sanitize == nil {
		sanitize = defaultSanitize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Normalizer{sanitize: sanitize, now: now}
}

// Production column order of the spreadsheet tab:
// id, date, category, process, productName, planQuantity, actualQuantity,
// unit, batchNo, manpower, lastUpdatedBy, updatedAt, remark, planRemark,
// actualRemark, status.
func (n *Normalizer) Production(v any) ProductionEntry {
	switch row := v.(type) {
	case []any:
		e := ProductionEntry{
			ID:             asString(col(row, 0)),
			Date:           asString(col(row, 1)),
			Category:       asString(col(row, 2)),
			Process:        asString(col(row, 3)),
			ProductName:    asString(col(row, 4)),
			PlanQuantity:   asCount(col(row, 5)),
			ActualQuantity: asCount(col(row, 6)),
			Unit:           asString(col(row, 7)),
			BatchNo:        asString(col(row, 8)),
			Manpower:       asCount(col(row, 9)),
			LastUpdatedBy:  asString(col(row, 10)),
			UpdatedAt:      asString(col(row, 11)),
			Remark:         asString(col(row, 12)),
			PlanRemark:     asString(col(row, 13)),
			ActualRemark:   asString(col(row, 14)),
			Status:         asString(col(row, 15)),
		}
		return n.finishProduction(e)
	case map[string]any:
		e := ProductionEntry{
			ID:             asString(row["id"]),
			Date:           asString(row["date"]),
			Category:       asString(row["category"]),
			Process:        asString(row["process"]),
			ProductName:    asString(row["productName"]),
			PlanQuantity:   asCount(row["planQuantity"]),
			ActualQuantity: asCount(row["actualQuantity"]),
			Unit:           asString(row["unit"]),
			BatchNo:        asString(row["batchNo"]),
			Manpower:       asCount(row["manpower"]),
			LastUpdatedBy:  asString(row["lastUpdatedBy"]),
			UpdatedAt:      asString(row["updatedAt"]),
			Remark:         asString(row["remark"]),
			PlanRemark:     asString(row["planRemark"]),
			ActualRemark:   asString(row["actualRemark"]),
			Status:         asString(row["status"]),
		}
		return n.finishProduction(e)
	case ProductionEntry:
		return n.finishProduction(row)
	default:
		return ProductionEntry{}
	}
}

func (n *Normalizer) finishProduction(e ProductionEntry) ProductionEntry {
	if e.ID == "" {
		e.ID = timeID(n.now())
	}
	e.Date = DateOnly(e.Date)
	if e.Category == "" {
		e.Category = "Healthcare"
	}
	if e.Process == "" {
		e.Process = "Mixing"
	}
	e.ProductName = n.sanitize(e.ProductName)
	if e.ProductName == "" {
		e.ProductName = "Unknown"
	}
	if e.PlanQuantity < 0 {
		e.PlanQuantity = 0
	}
	if e.ActualQuantity < 0 {
		e.ActualQuantity = 0
	}
	if e.Manpower < 0 {
		e.Manpower = 0
	}
	e.Unit = NormalizeUnit(e.Unit)
	e.BatchNo = n.sanitize(e.BatchNo)
	e.Remark = n.sanitize(e.Remark)
	e.PlanRemark = n.sanitize(e.PlanRemark)
	e.ActualRemark = n.sanitize(e.ActualRemark)
	e.Status = normalizeStatus(e.Status, e.ActualQuantity)
	e.LastUpdatedBy = strings.TrimSpace(e.LastUpdatedBy)
	if e.UpdatedAt == "" {
		e.UpdatedAt = DBTimestamp(n.now())
	}
	return e
}

// User columns: id, name, username, role, password, avatar.
func (n *Normalizer) User(v any) User {
	switch row := v.(type) {
	case []any:
		u := User{
			ID:       asString(col(row, 0)),
			Name:     asString(col(row, 1)),
			Username: asString(col(row, 2)),
			Role:     asString(col(row, 3)),
			Password: asString(col(row, 4)),
			Avatar:   asString(col(row, 5)),
		}
		return n.finishUser(u)
	case map[string]any:
		u := User{
			ID:       asString(row["id"]),
			Name:     asString(row["name"]),
			Username: asString(row["username"]),
			Email:    asString(row["email"]),
			Role:     asString(row["role"]),
			Password: asString(row["password"]),
			Avatar:   asString(row["avatar"]),
		}
		return n.finishUser(u)
	case User:
		return n.finishUser(row)
	default:
		return n.finishUser(User{})
	}
}

func (n *Normalizer) finishUser(u User) User {
	u.Name = n.sanitize(u.Name)
	u.Username = strings.TrimSpace(u.Username)
	u.Role = NormalizeRole(u.Role)
	return u
}

// OffDay columns: id, date, description, type, createdBy.
func (n *Normalizer) OffDay(v any) OffDay {
	switch row := v.(type) {
	case []any:
		d := OffDay{
			ID:          asString(col(row, 0)),
			Date:        asString(col(row, 1)),
			Description: asString(col(row, 2)),
			Type:        asString(col(row, 3)),
			CreatedBy:   asString(col(row, 4)),
		}
		return n.finishOffDay(d)
	case map[string]any:
		d := OffDay{
			ID:          asString(row["id"]),
			Date:        asString(row["date"]),
			Description: asString(row["description"]),
			Type:        asString(row["type"]),
			CreatedBy:   asString(row["createdBy"]),
		}
		return n.finishOffDay(d)
	case OffDay:
		return n.finishOffDay(row)
	default:
		return n.finishOffDay(OffDay{})
	}
}

func (n *Normalizer) finishOffDay(d OffDay) OffDay {
	if d.ID == "" {
		d.ID = timeID(n.now())
	}
	d.Date = DateOnly(d.Date)
	d.Description = n.sanitize(d.Description)
	d.Type = NormalizeOffDayType(d.Type)
	d.CreatedBy = strings.TrimSpace(d.CreatedBy)
	return d
}

// Log columns: id, timestamp, userId, userName, action, details.
func (n *Normalizer) Log(v any) ActivityLog {
	switch row := v.(type) {
	case []any:
		l := ActivityLog{
			ID:        asString(col(row, 0)),
			Timestamp: asString(col(row, 1)),
			UserID:    asString(col(row, 2)),
			UserName:  asString(col(row, 3)),
			Action:    asString(col(row, 4)),
			Details:   asString(col(row, 5)),
		}
		return n.finishLog(l)
	case map[string]any:
		l := ActivityLog{
			ID:        asString(row["id"]),
			Timestamp: asString(row["timestamp"]),
			UserID:    asString(row["userId"]),
			UserName:  asString(row["userName"]),
			Action:    asString(row["action"]),
			Details:   asString(row["details"]),
		}
		return n.finishLog(l)
	case ActivityLog:
		return n.finishLog(row)
	default:
		return n.finishLog(ActivityLog{})
	}
}

func (n *Normalizer) finishLog(l ActivityLog) ActivityLog {
	if l.ID == "" {
		l.ID = timeID(n.now())
	}
	if l.Timestamp == "" {
		l.Timestamp = DBTimestamp(n.now())
	}
	l.UserID = strings.TrimSpace(l.UserID)
	l.UserName = n.sanitize(l.UserName)
	if l.UserName == "" {
		l.UserName = "Unknown"
	}
	l.Action = strings.TrimSpace(l.Action)
	if l.Action == "" {
		l.Action = "ACTION"
	}
	l.Details = n.sanitize(l.Details)
	return l
}

// NormalizeUnit clamps a unit value to the legal set, defaulting to KG.
func NormalizeUnit(u string) string {
	upper := strings.ToUpper(strings.TrimSpace(u))
	if upper == "" {
		return DefaultUnit
	}
	for _, known := range Units {
		if upper == known {
			return known
		}
	}
	return DefaultUnit
}

// NormalizeRole clamps a role value to the legal set, defaulting to operator.
func NormalizeRole(r string) Role {
	lower := strings.ToLower(strings.TrimSpace(r))
	for _, known := range Roles {
		if lower == known {
			return known
		}
	}
	return RoleOperator
}

// NormalizeOffDayType clamps an off-day type, defaulting to "Off Day".
func NormalizeOffDayType(t string) OffDayType {
	trimmed := strings.TrimSpace(t)
	for _, known := range OffDayTypes {
		if strings.EqualFold(trimmed, known) {
			return known
		}
	}
	return OffDayOffDay
}

// normalizeStatus keeps a recognized explicit status, otherwise derives it
// from the actual quantity: any completed yield means Completed.
func normalizeStatus(s string, actualQuantity int) ProductionStatus {
	trimmed := strings.TrimSpace(s)
	switch {
	case strings.EqualFold(trimmed, StatusInProgress):
		return StatusInProgress
	case strings.EqualFold(trimmed, StatusCompleted):
		return StatusCompleted
	}
	if actualQuantity > 0 {
		return StatusCompleted
	}
	return StatusInProgress
}

func col(row []any, i int) any {
	if i >= 0 && i < len(row) {
		return row[i]
	}
	return nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

// asCount coerces a loosely-typed numeric value to a non-negative integer,
// defaulting to 0 on anything unparsable.
func asCount(v any) int {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	return int(f)
}

func timeID(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func defaultSanitize(s string) string {
	if s == "" {
		return s
	}
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		if r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(cleaned)
}
