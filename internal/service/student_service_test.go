package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-records-api/internal/models"
	appErrors "github.com/noah-isme/student-records-api/pkg/errors"
)

type mockListCache struct {
	store map[string][]models.StudentDetail
}

func newMockListCache() *mockListCache {
	return &mockListCache{store: map[string][]models.StudentDetail{}}
}

func (m *mockListCache) Get(ctx context.Context, key string, dest interface{}) error {
	cached, ok := m.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*(dest.(*[]models.StudentDetail)) = cached
	return nil
}

func (m *mockListCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.store[key] = value.([]models.StudentDetail)
	return nil
}

func (m *mockListCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.store = map[string][]models.StudentDetail{}
	return nil
}

type mockStudentRepo struct {
	students      map[string]*models.Student
	rollTaken     bool
	created       *models.Student
	updatedID     string
	updatedFields map[string]interface{}
	deletedID     string
	fetchResult   []models.Student
	fetchErr      error
	createErr     error
	updateErr     error
}

func newMockStudentRepo() *mockStudentRepo {
	return &mockStudentRepo{students: map[string]*models.Student{}}
}

func (m *mockStudentRepo) Fetch(ctx context.Context, filter models.StudentFilter) ([]models.Student, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.fetchResult, nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	student, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

func (m *mockStudentRepo) FindByRoll(ctx context.Context, rollNo string) (*models.Student, error) {
	for _, student := range m.students {
		if student.RollNo == rollNo {
			return student, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) ExistsByID(ctx context.Context, id string) (bool, error) {
	_, ok := m.students[id]
	return ok, nil
}

func (m *mockStudentRepo) ExistsByRoll(ctx context.Context, rollNo string, excludeID string) (bool, error) {
	return m.rollTaken, nil
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = student
	m.students[student.StudentID] = student
	return nil
}

func (m *mockStudentRepo) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updatedID = id
	m.updatedFields = fields
	return nil
}

func (m *mockStudentRepo) Delete(ctx context.Context, id string) error {
	m.deletedID = id
	delete(m.students, id)
	return nil
}

func strP(v string) *string { return &v }

func validCreateRequest() CreateStudentRequest {
	return CreateStudentRequest{
		StudentID:      "S001",
		RollNo:         "R001",
		Name:           "Asha",
		Age:            19,
		Gender:         models.GenderFemale,
		Category:       "General",
		Address:        "12 Main St",
		Course:         "B.Tech",
		CurrentYear:    2,
		Semester:       4,
		Type:           models.TypeHosteller,
		RoomNo:         strP("101"),
		HostelBuilding: strP("A Block"),
		Block:          strP("A"),
	}
}

func newTestStudentService(repo *mockStudentRepo) *StudentService {
	return NewStudentService(repo, nil, nil, validator.New(), zap.NewNop(), 0)
}

func TestStudentServiceCreate(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestStudentService(repo)

	detail, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)
	assert.Equal(t, "S001", detail.StudentID)
	assert.Equal(t, models.RiskLabelSafe, detail.Risk)
	require.NotNil(t, repo.created)
	assert.Equal(t, models.DefaultAttendance, repo.created.Attendance)
	require.NotNil(t, repo.created.RoomNo)
	assert.Nil(t, repo.created.BusNo)
	assert.Nil(t, repo.created.Route)
}

func TestStudentServiceCreateMissingFields(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestStudentService(repo)

	req := validCreateRequest()
	req.StudentID = "  "
	req.Course = ""

	_, err := svc.Create(context.Background(), req)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "Student ID")
	assert.Contains(t, appErr.Message, "Course")
	assert.Nil(t, repo.created)
}

func TestStudentServiceCreateDuplicateID(t *testing.T) {
	repo := newMockStudentRepo()
	repo.students["S001"] = &models.Student{StudentID: "S001"}
	svc := newTestStudentService(repo)

	_, err := svc.Create(context.Background(), validCreateRequest())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Equal(t, "student id already exists", appErr.Message)
}

func TestStudentServiceCreateDuplicateRoll(t *testing.T) {
	repo := newMockStudentRepo()
	repo.rollTaken = true
	svc := newTestStudentService(repo)

	_, err := svc.Create(context.Background(), validCreateRequest())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Equal(t, "roll no already exists", appErr.Message)
}

func TestStudentServiceCreateDayScholarNullsHostelFields(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestStudentService(repo)

	req := validCreateRequest()
	req.Type = models.TypeDayScholar
	req.BusNo = strP("12")
	req.Route = strP("North Gate")

	_, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, repo.created)
	assert.Nil(t, repo.created.RoomNo)
	assert.Nil(t, repo.created.HostelBuilding)
	assert.Nil(t, repo.created.Block)
	require.NotNil(t, repo.created.BusNo)
	assert.Equal(t, "12", *repo.created.BusNo)
}

func TestStudentServiceGetNotFound(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestStudentService(repo)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
	assert.Equal(t, "student not found", appErr.Message)
}

func TestStudentServiceUpdateUnknownField(t *testing.T) {
	repo := newMockStudentRepo()
	repo.students["S001"] = &models.Student{StudentID: "S001", Type: models.TypeHosteller}
	svc := newTestStudentService(repo)

	_, err := svc.Update(context.Background(), "S001", map[string]interface{}{"student_id": "S002"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "student_id")
	assert.Empty(t, repo.updatedID)
}

func TestStudentServiceUpdateCoercesNumbers(t *testing.T) {
	repo := newMockStudentRepo()
	repo.students["S001"] = &models.Student{StudentID: "S001", RollNo: "R001", Type: models.TypeHosteller, Attendance: 80}
	svc := newTestStudentService(repo)

	// JSON decoding hands numbers over as float64.
	_, err := svc.Update(context.Background(), "S001", map[string]interface{}{"attendance": float64(90)})
	require.NoError(t, err)
	assert.Equal(t, 90, repo.updatedFields["attendance"])
}

func TestStudentServiceUpdateAttendanceOutOfRange(t *testing.T) {
	repo := newMockStudentRepo()
	repo.students["S001"] = &models.Student{StudentID: "S001", Type: models.TypeHosteller}
	svc := newTestStudentService(repo)

	_, err := svc.Update(context.Background(), "S001", map[string]interface{}{"attendance": float64(120)})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestStudentServiceUpdateTypeSwitchNullsOtherGroup(t *testing.T) {
	repo := newMockStudentRepo()
	repo.students["S001"] = &models.Student{
		StudentID: "S001", RollNo: "R001", Type: models.TypeHosteller,
		RoomNo: strP("101"), HostelBuilding: strP("A Block"), Block: strP("A"),
	}
	svc := newTestStudentService(repo)

	_, err := svc.Update(context.Background(), "S001", map[string]interface{}{
		"type":   models.TypeDayScholar,
		"bus_no": "12",
	})
	require.NoError(t, err)
	fields := repo.updatedFields
	assert.Equal(t, models.TypeDayScholar, fields["type"])
	assert.Equal(t, "12", fields["bus_no"])
	assert.Nil(t, fields["room_no"])
	assert.Nil(t, fields["hostel_building"])
	assert.Nil(t, fields["block"])
}

func TestStudentServiceUpdateRollConflict(t *testing.T) {
	repo := newMockStudentRepo()
	repo.students["S001"] = &models.Student{StudentID: "S001", RollNo: "R001", Type: models.TypeHosteller}
	repo.rollTaken = true
	svc := newTestStudentService(repo)

	_, err := svc.Update(context.Background(), "S001", map[string]interface{}{"roll_no": "R002"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestStudentServiceDeleteAbsentSucceeds(t *testing.T) {
	repo := newMockStudentRepo()
	svc := newTestStudentService(repo)

	err := svc.Delete(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, "missing", repo.deletedID)
}

func TestStudentServiceRisk(t *testing.T) {
	repo := newMockStudentRepo()
	repo.students["S001"] = &models.Student{StudentID: "S001", Attendance: 60}
	repo.students["S002"] = &models.Student{StudentID: "S002", Attendance: 75}
	svc := newTestStudentService(repo)

	atRisk, err := svc.Risk(context.Background(), "S001")
	require.NoError(t, err)
	assert.Equal(t, models.RiskLabelAtRisk, atRisk.Risk)

	safe, err := svc.Risk(context.Background(), "S002")
	require.NoError(t, err)
	assert.Equal(t, models.RiskLabelSafe, safe.Risk)
}

func TestStudentServiceListRecordsCacheAndQueryMetrics(t *testing.T) {
	repo := newMockStudentRepo()
	repo.fetchResult = []models.Student{{StudentID: "S001", Attendance: 90}}
	metrics := NewMetricsService()
	svc := NewStudentService(repo, newMockListCache(), metrics, validator.New(), zap.NewNop(), time.Minute)

	// First listing misses the cache and hits the database, second is served
	// from the cache.
	_, err := svc.List(context.Background(), models.StudentFilter{})
	require.NoError(t, err)
	_, err = svc.List(context.Background(), models.StudentFilter{})
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheMisses))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheHits))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.dbQueryDuration))
}

func TestStudentServiceMutationsRecordQueryMetrics(t *testing.T) {
	repo := newMockStudentRepo()
	metrics := NewMetricsService()
	svc := NewStudentService(repo, nil, metrics, validator.New(), zap.NewNop(), 0)

	_, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)
	require.NoError(t, svc.Delete(context.Background(), "S001"))

	// One series per query label.
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.dbQueryDuration))
}

func TestStudentServiceUpdateRejectsInactiveGroupField(t *testing.T) {
	repo := newMockStudentRepo()
	repo.students["S001"] = &models.Student{StudentID: "S001", RollNo: "R001", Type: models.TypeHosteller}
	svc := newTestStudentService(repo)

	_, err := svc.Update(context.Background(), "S001", map[string]interface{}{"bus_no": "B7"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, "bus_no is not applicable for type Hosteller", appErr.Message)
	assert.Empty(t, repo.updatedID)
}

func TestStudentServiceUpdateAllowsExplicitNullOnInactiveGroup(t *testing.T) {
	repo := newMockStudentRepo()
	repo.students["S001"] = &models.Student{StudentID: "S001", RollNo: "R001", Type: models.TypeHosteller}
	svc := newTestStudentService(repo)

	_, err := svc.Update(context.Background(), "S001", map[string]interface{}{"bus_no": nil})
	require.NoError(t, err)
	assert.Nil(t, repo.updatedFields["bus_no"])
}

func TestStudentServiceListAttachesRisk(t *testing.T) {
	repo := newMockStudentRepo()
	repo.fetchResult = []models.Student{
		{StudentID: "S001", Attendance: 50},
		{StudentID: "S002", Attendance: 90},
	}
	svc := newTestStudentService(repo)

	details, err := svc.List(context.Background(), models.StudentFilter{})
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, models.RiskLabelAtRisk, details[0].Risk)
	assert.Equal(t, models.RiskLabelSafe, details[1].Risk)
}
