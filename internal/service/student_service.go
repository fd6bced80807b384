package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/student-records-api/internal/models"
	appErrors "github.com/noah-isme/student-records-api/pkg/errors"
)

type studentRepository interface {
	Fetch(ctx context.Context, filter models.StudentFilter) ([]models.Student, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByRoll(ctx context.Context, rollNo string) (*models.Student, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
	ExistsByRoll(ctx context.Context, rollNo string, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error
	Delete(ctx context.Context, id string) error
}

type listCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

const studentCachePattern = "students:list:*"

// CreateStudentRequest holds the full field set for registering a student.
type CreateStudentRequest struct {
	StudentID      string  `json:"student_id"`
	RollNo         string  `json:"roll_no"`
	Name           string  `json:"name"`
	Age            int     `json:"age" validate:"gte=1,lte=120"`
	Gender         string  `json:"gender" validate:"required,oneof=Male Female Others"`
	Category       string  `json:"category" validate:"required,oneof=General OBC SC ST Other"`
	Address        string  `json:"address"`
	Course         string  `json:"course"`
	CurrentYear    int     `json:"current_year" validate:"gte=1,lte=5"`
	Semester       int     `json:"semester" validate:"gte=1,lte=8"`
	Type           string  `json:"type" validate:"required,oneof='Hosteller' 'Day Scholar'"`
	RoomNo         *string `json:"room_no"`
	HostelBuilding *string `json:"hostel_building"`
	Block          *string `json:"block"`
	BusNo          *string `json:"bus_no"`
	Route          *string `json:"route"`
	Attendance     *int    `json:"attendance" validate:"omitempty,gte=0,lte=100"`
}

// RiskAssessment labels a single student's attendance.
type RiskAssessment struct {
	StudentID  string `json:"student_id"`
	Attendance int    `json:"attendance"`
	Risk       string `json:"risk_label"`
}

// StudentService is the validation facade in front of the record store.
type StudentService struct {
	repo      studentRepository
	cache     listCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewStudentService constructs the student service. The cache and metrics
// are optional.
func NewStudentService(repo studentRepository, cache listCache, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &StudentService{repo: repo, cache: cache, metrics: metrics, validator: validate, logger: logger, cacheTTL: cacheTTL}
}

// requiredCreateFields maps the mandatory create fields to display names used
// in the aggregated validation message.
var requiredCreateFields = []struct {
	display string
	value   func(CreateStudentRequest) string
}{
	{"Student ID", func(r CreateStudentRequest) string { return r.StudentID }},
	{"Roll No", func(r CreateStudentRequest) string { return r.RollNo }},
	{"Name", func(r CreateStudentRequest) string { return r.Name }},
	{"Course", func(r CreateStudentRequest) string { return r.Course }},
	{"Address", func(r CreateStudentRequest) string { return r.Address }},
}

// Create registers a new student record.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.StudentDetail, error) {
	var missing []string
	for _, field := range requiredCreateFields {
		if strings.TrimSpace(field.value(req)) == "" {
			missing = append(missing, field.display)
		}
	}
	if len(missing) > 0 {
		msg := fmt.Sprintf("please fill all required fields: %s", strings.Join(missing, ", "))
		return nil, appErrors.Clone(appErrors.ErrValidation, msg)
	}

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	if exists, err := s.repo.ExistsByID(ctx, strings.TrimSpace(req.StudentID)); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student id")
	} else if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student id already exists")
	}
	if exists, err := s.repo.ExistsByRoll(ctx, strings.TrimSpace(req.RollNo), ""); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate roll no")
	} else if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "roll no already exists")
	}

	attendance := models.DefaultAttendance
	if req.Attendance != nil {
		attendance = *req.Attendance
	}

	student := &models.Student{
		StudentID:   strings.TrimSpace(req.StudentID),
		RollNo:      strings.TrimSpace(req.RollNo),
		Name:        strings.TrimSpace(req.Name),
		Age:         req.Age,
		Gender:      req.Gender,
		Category:    req.Category,
		Address:     strings.TrimSpace(req.Address),
		Course:      strings.TrimSpace(req.Course),
		CurrentYear: req.CurrentYear,
		Semester:    req.Semester,
		Type:        req.Type,
		Attendance:  attendance,
	}
	applyResidence(student, residenceFromRequest(req))

	start := time.Now()
	err := s.repo.Create(ctx, student)
	s.metrics.ObserveDBQuery("students_insert", time.Since(start))
	if err != nil {
		var conflict *appErrors.ConflictError
		if errors.As(err, &conflict) {
			return nil, appErrors.Clone(appErrors.ErrConflict, conflict.Error())
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}

	s.invalidateCache(ctx)
	detail := models.NewStudentDetail(*student)
	return &detail, nil
}

// Get returns a student by primary key.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	detail := models.NewStudentDetail(*student)
	return &detail, nil
}

// GetByRoll returns a student by roll number.
func (s *StudentService) GetByRoll(ctx context.Context, rollNo string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByRoll(ctx, strings.TrimSpace(rollNo))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	detail := models.NewStudentDetail(*student)
	return &detail, nil
}

// List returns every student matching the filter. Unfiltered and filtered
// listings are cached under distinct keys and invalidated on any mutation.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, error) {
	key := listCacheKey(filter)
	if s.cache != nil {
		var cached []models.StudentDetail
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return cached, nil
		}
		s.metrics.RecordCacheOperation(false)
	}

	start := time.Now()
	students, err := s.repo.Fetch(ctx, filter)
	s.metrics.ObserveDBQuery("students_fetch", time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}

	details := make([]models.StudentDetail, 0, len(students))
	for _, student := range students {
		details = append(details, models.NewStudentDetail(student))
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, details, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache student listing", zap.Error(err))
		}
	}
	return details, nil
}

// Update overwrites only the named fields of one record. Field names are
// checked against the schema whitelist before any storage access.
func (s *StudentService) Update(ctx context.Context, id string, fields map[string]interface{}) (*models.StudentDetail, error) {
	id = strings.TrimSpace(id)
	if len(fields) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no fields to update")
	}

	for name := range fields {
		if _, ok := models.UpdatableStudentColumns[name]; !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid field: %s", name))
		}
	}

	normalized, err := s.normalizeUpdate(fields)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	if rollNo, ok := normalized["roll_no"].(string); ok && rollNo != existing.RollNo {
		taken, err := s.repo.ExistsByRoll(ctx, rollNo, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate roll no")
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "roll no already exists")
		}
	}

	if err := enforceResidenceExclusivity(normalized, existing.Type); err != nil {
		return nil, err
	}

	start := time.Now()
	err = s.repo.UpdateFields(ctx, id, normalized)
	s.metrics.ObserveDBQuery("students_update", time.Since(start))
	if err != nil {
		var conflict *appErrors.ConflictError
		if errors.As(err, &conflict) {
			return nil, appErrors.Clone(appErrors.ErrConflict, conflict.Error())
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}

	s.invalidateCache(ctx)
	return s.Get(ctx, id)
}

// Delete removes a student. Deleting an absent key succeeds silently; callers
// that care check existence first.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.repo.Delete(ctx, strings.TrimSpace(id))
	s.metrics.ObserveDBQuery("students_delete", time.Since(start))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	s.invalidateCache(ctx)
	return nil
}

// Risk labels one student's attendance against the fixed threshold.
func (s *StudentService) Risk(ctx context.Context, id string) (*RiskAssessment, error) {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RiskAssessment{
		StudentID:  detail.StudentID,
		Attendance: detail.Attendance,
		Risk:       detail.RiskLabel(),
	}, nil
}

// normalizeUpdate coerces numeric fields, trims strings and re-applies the
// enum and range rules on whichever fields are present.
func (s *StudentService) normalizeUpdate(fields map[string]interface{}) (map[string]interface{}, error) {
	normalized := make(map[string]interface{}, len(fields))
	for name, value := range fields {
		switch name {
		case "age", "current_year", "semester", "attendance":
			n, err := coerceInt(value)
			if err != nil {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid value for %s", name))
			}
			if err := checkIntRange(name, n); err != nil {
				return nil, err
			}
			normalized[name] = n
		case "gender":
			v, ok := value.(string)
			if !ok || (v != models.GenderMale && v != models.GenderFemale && v != models.GenderOthers) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "invalid value for gender")
			}
			normalized[name] = v
		case "category":
			v, ok := value.(string)
			if !ok || !validCategory(v) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "invalid value for category")
			}
			normalized[name] = v
		case "type":
			v, ok := value.(string)
			if !ok || (v != models.TypeHosteller && v != models.TypeDayScholar) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "invalid value for type")
			}
			normalized[name] = v
		case "roll_no", "name", "course", "address":
			v, ok := value.(string)
			if !ok || strings.TrimSpace(v) == "" {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must not be empty", name))
			}
			normalized[name] = strings.TrimSpace(v)
		default:
			// Residence detail columns accept strings or explicit nulls.
			if value == nil {
				normalized[name] = nil
				break
			}
			v, ok := value.(string)
			if !ok {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid value for %s", name))
			}
			normalized[name] = v
		}
	}
	return normalized, nil
}

func checkIntRange(name string, n int) error {
	ranges := map[string][2]int{
		"age":          {1, 120},
		"current_year": {1, 5},
		"semester":     {1, 8},
		"attendance":   {0, 100},
	}
	bounds := ranges[name]
	if n < bounds[0] || n > bounds[1] {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be between %d and %d", name, bounds[0], bounds[1]))
	}
	return nil
}

func validCategory(v string) bool {
	switch v {
	case "General", "OBC", "SC", "ST", "Other":
		return true
	}
	return false
}

func coerceInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("not an integer")
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	default:
		return 0, fmt.Errorf("not a number")
	}
}

// residenceFromRequest builds the tagged residence variant from the flat
// request payload.
func residenceFromRequest(req CreateStudentRequest) models.Residence {
	res := models.Residence{Type: req.Type}
	if req.Type == models.TypeHosteller {
		res.Hosteller = &models.HostellerInfo{
			RoomNo:         derefString(req.RoomNo),
			HostelBuilding: derefString(req.HostelBuilding),
			Block:          derefString(req.Block),
		}
	} else {
		res.DayScholar = &models.DayScholarInfo{
			BusNo: derefString(req.BusNo),
			Route: derefString(req.Route),
		}
	}
	return res
}

// applyResidence writes exactly one residence group onto the row and nulls
// the other, keeping the exclusivity invariant out of callers' hands.
func applyResidence(student *models.Student, res models.Residence) {
	student.Type = res.Type
	student.RoomNo, student.HostelBuilding, student.Block = nil, nil, nil
	student.BusNo, student.Route = nil, nil
	if res.Hosteller != nil {
		student.RoomNo = strPtr(res.Hosteller.RoomNo)
		student.HostelBuilding = strPtr(res.Hosteller.HostelBuilding)
		student.Block = strPtr(res.Hosteller.Block)
	}
	if res.DayScholar != nil {
		student.BusNo = strPtr(res.DayScholar.BusNo)
		student.Route = strPtr(res.DayScholar.Route)
	}
}

// enforceResidenceExclusivity keeps exactly one residence group populated.
// An update naming an inactive-group field with a real value is rejected,
// explicit nulls pass; whenever the discriminator or a residence column is
// touched the inactive group is forced to NULL.
func enforceResidenceExclusivity(fields map[string]interface{}, currentType string) error {
	touched := false
	for _, name := range []string{"type", "room_no", "hostel_building", "block", "bus_no", "route"} {
		if _, ok := fields[name]; ok {
			touched = true
			break
		}
	}
	if !touched {
		return nil
	}

	effective := currentType
	if t, ok := fields["type"].(string); ok {
		effective = t
	}

	inactive := []string{"room_no", "hostel_building", "block"}
	if effective == models.TypeHosteller {
		inactive = []string{"bus_no", "route"}
	}

	for _, name := range inactive {
		if value, ok := fields[name]; ok && value != nil {
			return appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("%s is not applicable for type %s", name, effective))
		}
	}
	for _, name := range inactive {
		fields[name] = nil
	}
	return nil
}

func (s *StudentService) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, studentCachePattern); err != nil {
		s.logger.Warn("failed to invalidate student cache", zap.Error(err))
	}
}

func listCacheKey(filter models.StudentFilter) string {
	if filter.IsZero() {
		return "students:list:all"
	}
	raw, err := json.Marshal(filter)
	if err != nil {
		return "students:list:all"
	}
	sum := sha256.Sum256(raw)
	return "students:list:" + hex.EncodeToString(sum[:8])
}

func derefString(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return strings.TrimSpace(*ptr)
}

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
