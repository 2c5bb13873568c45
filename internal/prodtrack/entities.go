package prodtrack

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Logger is the minimal logging surface components accept; the default
// discards everything so library code stays quiet unless wired up.
type Logger interface {
	Printf(format string, args ...any)
}

type Role = string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RolePlanner  Role = "planner"
	RoleOperator Role = "operator"
)

var Roles = []Role{RoleAdmin, RoleManager, RolePlanner, RoleOperator}

type ProductionStatus = string

const (
	StatusInProgress ProductionStatus = "In Progress"
	StatusCompleted  ProductionStatus = "Completed"
)

type OffDayType = string

const (
	OffDayPublicHoliday OffDayType = "Public Holiday"
	OffDayRestDay       OffDayType = "Rest Day"
	OffDayOffDay        OffDayType = "Off Day"
)

var (
	Categories  = []string{"Healthcare", "Toothpaste", "Rocksalt", "Cosmetic"}
	Processes   = []string{"Mixing", "Encapsulation", "Filling", "Sorting", "Packing", "Blister", "Capsules"}
	Units       = []string{"KG", "PCS", "CARTON", "BTL", "BOX", "PAX", "TUBE", "BLISTER"}
	OffDayTypes = []OffDayType{OffDayPublicHoliday, OffDayRestDay, OffDayOffDay}
)

const DefaultUnit = "KG"

type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     Role   `json:"role"`
	Password string `json:"password,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// ProductionEntry is one planned/actual production job. UpdatedAt carries
// the fixed-width "YYYY-MM-DD HH:mm:ss" stamp that orders reconciliation.
type ProductionEntry struct {
	ID             string           `json:"id"`
	Date           string           `json:"date"`
	Category       string           `json:"category"`
	Process        string           `json:"process"`
	ProductName    string           `json:"productName"`
	PlanQuantity   int              `json:"planQuantity"`
	ActualQuantity int              `json:"actualQuantity"`
	Unit           string           `json:"unit"`
	BatchNo        string           `json:"batchNo,omitempty"`
	Manpower       int              `json:"manpower,omitempty"`
	Remark         string           `json:"remark,omitempty"`
	PlanRemark     string           `json:"planRemark,omitempty"`
	ActualRemark   string           `json:"actualRemark,omitempty"`
	Status         ProductionStatus `json:"status"`
	LastUpdatedBy  string           `json:"lastUpdatedBy"`
	UpdatedAt      string           `json:"updatedAt"`
}

type OffDay struct {
	ID          string     `json:"id"`
	Date        string     `json:"date"`
	Description string     `json:"description"`
	Type        OffDayType `json:"type"`
	CreatedBy   string     `json:"createdBy"`
}

type ActivityLog struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Action    string `json:"action"`
	Details   string `json:"details"`
}

type DashboardStats struct {
	TotalPlan     int     `json:"totalPlan"`
	TotalActual   int     `json:"totalActual"`
	AvgEfficiency float64 `json:"avgEfficiency"`
	TotalManpower int     `json:"totalManpower"`
}

// EffectiveOffDay is the resolved off-day status of a calendar date after
// applying manual records over the implicit weekly rule.
type EffectiveOffDay struct {
	Date        string     `json:"date"`
	Type        OffDayType `json:"type"`
	Description string     `json:"description,omitempty"`
	Source      string     `json:"source"` // "manual" or "weekly"
}

func (e ProductionEntry) RecordID() string    { return e.ID }
func (e ProductionEntry) RecordStamp() string { return e.UpdatedAt }

func (l ActivityLog) RecordID() string    { return l.ID }
func (l ActivityLog) RecordStamp() string { return l.Timestamp }
