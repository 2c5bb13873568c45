package prodtrack

// SeedUsers returns the bootstrap account set. It is handed out whenever the
// cached user table is empty or unreadable, so a wiped device always has a
// working admin login.
func SeedUsers() []User {
	return []User{
		{ID: "u1", Name: "Idham (Administrator)", Username: "Idham", Email: "admin@halagel.com", Role: RoleAdmin, Password: "admin123"},
		{ID: "u2", Name: "Hazlina (Manager)", Username: "hazlina", Email: "haz@halagel.com", Role: RoleManager, Password: "pass123"},
		{ID: "u3", Name: "Hafiz (Manager)", Username: "hafiz", Email: "hafiz@halagel.com", Role: RoleManager, Password: "pass123"},
		{ID: "u4", Name: "Umaira (Planner)", Username: "Umaira", Email: "umai@halagel.com", Role: RolePlanner, Password: "pass123"},
		{ID: "u5", Name: "Operator User", Username: "operator", Email: "operator@halagel.com", Role: RoleOperator, Password: "password123"},
	}
}

func SeedOffDays() []OffDay {
	return []OffDay{
		{ID: "od1", Date: "2025-12-25", Description: "Christmas Day", Type: OffDayPublicHoliday, CreatedBy: "u1"},
		{ID: "od2", Date: "2026-01-01", Description: "New Year", Type: OffDayPublicHoliday, CreatedBy: "u1"},
	}
}
