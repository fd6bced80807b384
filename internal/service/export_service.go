package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-records-api/internal/models"
	appErrors "github.com/noah-isme/student-records-api/pkg/errors"
	"github.com/noah-isme/student-records-api/pkg/export"
)

type studentFetcher interface {
	Fetch(ctx context.Context, filter models.StudentFilter) ([]models.Student, error)
}

// exportHeaders fixes the column order of exported files, matching the
// on-screen table rather than the storage schema ordering.
var exportHeaders = []string{
	"Student ID", "Roll No", "Name", "Age", "Gender", "Category", "Address",
	"Course", "Current Year", "Semester", "Type", "Room No", "Hostel Building",
	"Block", "Bus No", "Route", "Attendance",
}

// ExportFile is a rendered export ready to stream to the client.
type ExportFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ExportService renders filtered student listings as downloadable files.
type ExportService struct {
	repo   studentFetcher
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
	logger *zap.Logger
}

// NewExportService constructs the export service.
func NewExportService(repo studentFetcher, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		repo:   repo,
		csv:    export.NewCSVExporter(),
		pdf:    export.NewPDFExporter(),
		logger: logger,
	}
}

// ExportCSV renders the filtered listing as CSV.
func (s *ExportService) ExportCSV(ctx context.Context, filter models.StudentFilter) (*ExportFile, error) {
	dataset, err := s.buildDataset(ctx, filter)
	if err != nil {
		return nil, err
	}
	content, err := s.csv.Render(*dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
	}
	return &ExportFile{
		Filename:    exportFilename("csv"),
		ContentType: "text/csv",
		Content:     content,
	}, nil
}

// ExportPDF renders the filtered listing as a landscape PDF table.
func (s *ExportService) ExportPDF(ctx context.Context, filter models.StudentFilter) (*ExportFile, error) {
	dataset, err := s.buildDataset(ctx, filter)
	if err != nil {
		return nil, err
	}
	content, err := s.pdf.Render(*dataset, "Student Records")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
	}
	return &ExportFile{
		Filename:    exportFilename("pdf"),
		ContentType: "application/pdf",
		Content:     content,
	}, nil
}

func (s *ExportService) buildDataset(ctx context.Context, filter models.StudentFilter) (*export.Dataset, error) {
	students, err := s.repo.Fetch(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load students")
	}

	rows := make([]map[string]string, 0, len(students))
	for _, st := range students {
		rows = append(rows, map[string]string{
			"Student ID":      st.StudentID,
			"Roll No":         st.RollNo,
			"Name":            st.Name,
			"Age":             strconv.Itoa(st.Age),
			"Gender":          st.Gender,
			"Category":        st.Category,
			"Address":         st.Address,
			"Course":          st.Course,
			"Current Year":    strconv.Itoa(st.CurrentYear),
			"Semester":        strconv.Itoa(st.Semester),
			"Type":            st.Type,
			"Room No":         stringOrEmpty(st.RoomNo),
			"Hostel Building": stringOrEmpty(st.HostelBuilding),
			"Block":           stringOrEmpty(st.Block),
			"Bus No":          stringOrEmpty(st.BusNo),
			"Route":           stringOrEmpty(st.Route),
			"Attendance":      strconv.Itoa(st.Attendance),
		})
	}

	return &export.Dataset{Headers: exportHeaders, Rows: rows}, nil
}

func exportFilename(ext string) string {
	return fmt.Sprintf("students_%s.%s", time.Now().UTC().Format("20060102_150405"), ext)
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
