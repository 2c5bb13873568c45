package prodtrack

import (
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2025, 3, 4, 10, 30, 0, 0, factoryZone)
}

func testNormalizer() *Normalizer {
	return NewNormalizerWithOptions(NormalizerOptions{Now: fixedNow})
}

func TestProductionFromPositionalRow(t *testing.T) {
	n := testNormalizer()
	row := []any{
		"p1", "2025-03-04 00:00:00", "Toothpaste", "Filling", "Gel Paste",
		float64(100), float64(40), "pcs", "B-12", float64(5),
		"umaira", "2025-03-04 09:00:00", "note", "plan note", "actual note", "",
	}
	e := n.Production(row)
	if e.ID != "p1" {
		t.Fatalf("unexpected id %q", e.ID)
	}
	if e.Date != "2025-03-04" {
		t.Fatalf("date not stripped to day: %q", e.Date)
	}
	if e.Unit != "PCS" {
		t.Fatalf("unit not uppercased: %q", e.Unit)
	}
	if e.PlanQuantity != 100 || e.ActualQuantity != 40 || e.Manpower != 5 {
		t.Fatalf("quantities wrong: %+v", e)
	}
	if e.Status != StatusCompleted {
		t.Fatalf("status should derive Completed from actual>0, got %q", e.Status)
	}
	if e.UpdatedAt != "2025-03-04 09:00:00" {
		t.Fatalf("updatedAt overwritten: %q", e.UpdatedAt)
	}
}

func TestProductionFromObjectAppliesDefaults(t *testing.T) {
	n := testNormalizer()
	e := n.Production(map[string]any{
		"date":         "2025-03-05",
		"planQuantity": float64(-10),
		"unit":         "barrels",
	})
	if e.ID == "" {
		t.Fatal("missing id should be generated")
	}
	if e.Category != "Healthcare" || e.Process != "Mixing" {
		t.Fatalf("category/process defaults missing: %+v", e)
	}
	if e.ProductName != "Unknown" {
		t.Fatalf("product name default missing: %q", e.ProductName)
	}
	if e.PlanQuantity != 0 {
		t.Fatalf("negative plan should clamp to 0, got %d", e.PlanQuantity)
	}
	if e.Unit != DefaultUnit {
		t.Fatalf("unknown unit should clamp to %s, got %q", DefaultUnit, e.Unit)
	}
	if e.Status != StatusInProgress {
		t.Fatalf("zero actual should derive In Progress, got %q", e.Status)
	}
	if e.UpdatedAt != DBTimestamp(fixedNow()) {
		t.Fatalf("missing updatedAt should stamp now, got %q", e.UpdatedAt)
	}
}

func TestProductionExplicitStatusWins(t *testing.T) {
	n := testNormalizer()
	e := n.Production(ProductionEntry{
		Date:           "2025-03-05",
		ActualQuantity: 50,
		Status:         "in progress",
	})
	if e.Status != StatusInProgress {
		t.Fatalf("explicit status should be kept case-insensitively, got %q", e.Status)
	}
}

func TestProductionSanitizesFreeText(t *testing.T) {
	n := testNormalizer()
	e := n.Production(ProductionEntry{
		Date:        "2025-03-05",
		ProductName: "  Gel\x00Paste \x1b ",
		Remark:      "line1\nline2\x7f",
	})
	if e.ProductName != "Gel Paste" && e.ProductName != "GelPaste" {
		t.Fatalf("control characters should be stripped, got %q", e.ProductName)
	}
	if e.Remark != "line1\nline2" {
		t.Fatalf("newline should survive sanitize, got %q", e.Remark)
	}
}

func TestUserRoleClamp(t *testing.T) {
	n := testNormalizer()
	u := n.User(map[string]any{"id": "u9", "username": "ali", "role": "ADMIN"})
	if u.Role != RoleAdmin {
		t.Fatalf("role should lowercase to admin, got %q", u.Role)
	}
	u = n.User(map[string]any{"id": "u9", "username": "ali", "role": "supervisor"})
	if u.Role != RoleOperator {
		t.Fatalf("unknown role should clamp to operator, got %q", u.Role)
	}
}

func TestUserFromPositionalRow(t *testing.T) {
	n := testNormalizer()
	u := n.User([]any{"u7", "Aisha", "aisha", "planner", "pw", ""})
	if u.ID != "u7" || u.Username != "aisha" || u.Role != RolePlanner {
		t.Fatalf("positional decode wrong: %+v", u)
	}
}

func TestOffDayTypeClamp(t *testing.T) {
	n := testNormalizer()
	d := n.OffDay(map[string]any{"date": "2025-12-25 00:00:00", "type": "public holiday"})
	if d.Date != "2025-12-25" {
		t.Fatalf("date not stripped: %q", d.Date)
	}
	if d.Type != OffDayPublicHoliday {
		t.Fatalf("type should fold to Public Holiday, got %q", d.Type)
	}
	d = n.OffDay(map[string]any{"date": "2025-12-26", "type": "vacation"})
	if d.Type != OffDayOffDay {
		t.Fatalf("unknown type should clamp to Off Day, got %q", d.Type)
	}
}

func TestLogDefaults(t *testing.T) {
	n := testNormalizer()
	l := n.Log(map[string]any{"userId": "u1"})
	if l.ID == "" || l.Timestamp == "" {
		t.Fatalf("id and timestamp should be assigned: %+v", l)
	}
	if l.UserName != "Unknown" {
		t.Fatalf("missing user name should default, got %q", l.UserName)
	}
	if l.Action != "ACTION" {
		t.Fatalf("missing action should default, got %q", l.Action)
	}
}

func TestAsCountCoercions(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{float64(7), 7},
		{"12", 12},
		{" 3.9 ", 3},
		{"-4", 0},
		{"abc", 0},
		{nil, 0},
		{true, 0},
	}
	for _, tc := range cases {
		if got := asCount(tc.in); got != tc.want {
			t.Errorf("asCount(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestAsStringFormatsWholeFloats(t *testing.T) {
	if got := asString(float64(1744000000000)); got != "1744000000000" {
		t.Fatalf("whole float should format without exponent, got %q", got)
	}
}

func TestNormalizeUnit(t *testing.T) {
	if got := NormalizeUnit(" btl "); got != "BTL" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeUnit(""); got != DefaultUnit {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeUnit("gallon"); got != DefaultUnit {
		t.Fatalf("got %q", got)
	}
}
