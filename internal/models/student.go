package models

import "time"

// Enumerated values accepted by the record schema. The stored column names
// match the underlying students table one to one.
const (
	GenderMale   = "Male"
	GenderFemale = "Female"
	GenderOthers = "Others"

	TypeHosteller  = "Hosteller"
	TypeDayScholar = "Day Scholar"

	// DefaultAttendance is applied when a record is created without an
	// explicit attendance percentage.
	DefaultAttendance = 80

	// RiskAttendanceThreshold is the attendance percentage below which a
	// student is labelled at risk.
	RiskAttendanceThreshold = 75

	RiskLabelAtRisk = "At Risk (Low Attendance)"
	RiskLabelSafe   = "Safe (Good Attendance)"
)

// Student represents one row of the students table. Exactly one of the two
// residence groups is meaningful, selected by Type; the service nulls the
// inactive group before a row reaches storage.
type Student struct {
	StudentID      string    `db:"student_id" json:"student_id"`
	RollNo         string    `db:"roll_no" json:"roll_no"`
	Name           string    `db:"name" json:"name"`
	Age            int       `db:"age" json:"age"`
	Gender         string    `db:"gender" json:"gender"`
	Category       string    `db:"category" json:"category"`
	Address        string    `db:"address" json:"address"`
	Course         string    `db:"course" json:"course"`
	CurrentYear    int       `db:"current_year" json:"current_year"`
	Semester       int       `db:"semester" json:"semester"`
	Type           string    `db:"type" json:"type"`
	RoomNo         *string   `db:"room_no" json:"room_no,omitempty"`
	HostelBuilding *string   `db:"hostel_building" json:"hostel_building,omitempty"`
	Block          *string   `db:"block" json:"block,omitempty"`
	BusNo          *string   `db:"bus_no" json:"bus_no,omitempty"`
	Route          *string   `db:"route" json:"route,omitempty"`
	Attendance     int       `db:"attendance" json:"attendance"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// RiskLabel classifies attendance against the fixed threshold.
func (s Student) RiskLabel() string {
	if s.Attendance < RiskAttendanceThreshold {
		return RiskLabelAtRisk
	}
	return RiskLabelSafe
}

// StudentDetail is a Student decorated with derived presentation fields.
type StudentDetail struct {
	Student
	Risk string `json:"risk_label"`
}

// NewStudentDetail attaches the derived fields to a stored row.
func NewStudentDetail(s Student) StudentDetail {
	return StudentDetail{Student: s, Risk: s.RiskLabel()}
}

// Residence is the tagged view of the conditional field groups. The table
// stays flat; this shape exists so validation can enforce exclusivity.
type Residence struct {
	Type       string
	Hosteller  *HostellerInfo
	DayScholar *DayScholarInfo
}

// HostellerInfo carries the fields meaningful for hostellers.
type HostellerInfo struct {
	RoomNo         string
	HostelBuilding string
	Block          string
}

// DayScholarInfo carries the fields meaningful for day scholars.
type DayScholarInfo struct {
	BusNo string
	Route string
}

// StudentFilter holds the optional fetch predicates. Every dimension is
// AND-combined; an empty dimension places no restriction.
type StudentFilter struct {
	Types          []string
	Genders        []string
	Categories     []string
	CourseContains string
	NameContains   string
	Years          []int
	Semesters      []int
}

// IsZero reports whether the filter restricts anything at all.
func (f StudentFilter) IsZero() bool {
	return len(f.Types) == 0 && len(f.Genders) == 0 && len(f.Categories) == 0 &&
		f.CourseContains == "" && f.NameContains == "" && len(f.Years) == 0 && len(f.Semesters) == 0
}

// StudentColumns lists every students column in schema order. Display headers
// for exports derive from this ordering.
var StudentColumns = []string{
	"student_id", "roll_no", "name", "age", "gender", "category",
	"address", "course", "current_year", "semester",
	"type", "room_no", "hostel_building", "block", "bus_no", "route",
	"attendance",
}

// UpdatableStudentColumns is the whitelist for partial updates. The primary
// key and bookkeeping columns are never client-writable.
var UpdatableStudentColumns = map[string]struct{}{
	"roll_no":         {},
	"name":            {},
	"age":             {},
	"gender":          {},
	"category":        {},
	"address":         {},
	"course":          {},
	"current_year":    {},
	"semester":        {},
	"type":            {},
	"room_no":         {},
	"hostel_building": {},
	"block":           {},
	"bus_no":          {},
	"route":           {},
	"attendance":      {},
}
