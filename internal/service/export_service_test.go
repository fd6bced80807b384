package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-records-api/internal/models"
)

type mockFetcher struct {
	students []models.Student
	filter   models.StudentFilter
	err      error
}

func (m *mockFetcher) Fetch(ctx context.Context, filter models.StudentFilter) ([]models.Student, error) {
	m.filter = filter
	if m.err != nil {
		return nil, m.err
	}
	return m.students, nil
}

func exportStudents() []models.Student {
	room := "101"
	building := "A Block"
	block := "A"
	return []models.Student{{
		StudentID: "S001", RollNo: "R001", Name: "Asha", Age: 19,
		Gender: "Female", Category: "General", Address: "12 Main St",
		Course: "B.Tech", CurrentYear: 2, Semester: 4,
		Type: "Hosteller", RoomNo: &room, HostelBuilding: &building, Block: &block,
		Attendance: 82,
	}}
}

func TestExportServiceCSV(t *testing.T) {
	fetcher := &mockFetcher{students: exportStudents()}
	svc := NewExportService(fetcher, zap.NewNop())

	file, err := svc.ExportCSV(context.Background(), models.StudentFilter{})
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.True(t, strings.HasPrefix(file.Filename, "students_"))
	assert.True(t, strings.HasSuffix(file.Filename, ".csv"))

	lines := strings.Split(strings.TrimSpace(string(file.Content)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Student ID,Roll No,Name,Age,Gender,Category,Address,Course,Current Year,Semester,Type,Room No,Hostel Building,Block,Bus No,Route,Attendance", lines[0])
	assert.Contains(t, lines[1], "S001,R001,Asha,19,Female,General,12 Main St,B.Tech,2,4,Hosteller,101,A Block,A,,,82")
}

func TestExportServiceCSVEmptyTable(t *testing.T) {
	fetcher := &mockFetcher{}
	svc := NewExportService(fetcher, zap.NewNop())

	file, err := svc.ExportCSV(context.Background(), models.StudentFilter{})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(file.Content)), "\n")
	assert.Len(t, lines, 1)
}

func TestExportServiceCSVPassesFilter(t *testing.T) {
	fetcher := &mockFetcher{students: exportStudents()}
	svc := NewExportService(fetcher, zap.NewNop())

	filter := models.StudentFilter{Types: []string{"Hosteller"}, NameContains: "ash"}
	_, err := svc.ExportCSV(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, filter, fetcher.filter)
}

func TestExportServicePDF(t *testing.T) {
	fetcher := &mockFetcher{students: exportStudents()}
	svc := NewExportService(fetcher, zap.NewNop())

	file, err := svc.ExportPDF(context.Background(), models.StudentFilter{})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, strings.HasSuffix(file.Filename, ".pdf"))
	assert.True(t, strings.HasPrefix(string(file.Content), "%PDF"))
}
