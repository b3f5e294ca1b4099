package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-grading-api/internal/grading"
	"github.com/noah-isme/sma-grading-api/internal/models"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
)

type classRepoFake struct {
	classes    map[string]models.Class
	taken      map[string]bool
	lastFilter models.ClassFilter
	deleted    []string
}

func (f *classRepoFake) List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, int, error) {
	f.lastFilter = filter
	var out []models.ClassDetail
	for _, c := range f.classes {
		if filter.TeacherID != "" && c.TeacherID != filter.TeacherID {
			continue
		}
		out = append(out, models.ClassDetail{Class: c})
	}
	return out, len(out), nil
}

func (f *classRepoFake) FindByID(ctx context.Context, id string) (*models.Class, error) {
	c, ok := f.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (f *classRepoFake) FindDetailByID(ctx context.Context, id string) (*models.ClassDetail, error) {
	c, ok := f.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.ClassDetail{Class: c, TeacherName: "Bu Sari", StudentCount: 3}, nil
}

func (f *classRepoFake) ExistsByName(ctx context.Context, teacherID, name, academicYear, excludeID string) (bool, error) {
	return f.taken[teacherID+"|"+name+"|"+academicYear], nil
}

func (f *classRepoFake) Create(ctx context.Context, class *models.Class) error {
	class.ID = "class-new"
	f.classes[class.ID] = *class
	return nil
}

func (f *classRepoFake) Update(ctx context.Context, class *models.Class) error {
	f.classes[class.ID] = *class
	return nil
}

func (f *classRepoFake) Delete(ctx context.Context, id string) error {
	if _, ok := f.classes[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.classes, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type userLookupFake map[string]models.User

func (f userLookupFake) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

type weightTotalFake float64

func (f weightTotalFake) SumActiveWeights(ctx context.Context, exec sqlx.ExtContext, classID, excludeID string) (float64, error) {
	return float64(f), nil
}

func newClassServiceFixture(total float64) (*ClassService, *classRepoFake) {
	repo := &classRepoFake{
		classes: map[string]models.Class{
			"class-1": {ID: "class-1", Name: "X IPA 1", Subject: "Matematika", AcademicYear: "2024/2025", TeacherID: "teacher-1", Active: true},
			"class-2": {ID: "class-2", Name: "X IPA 2", Subject: "Fisika", AcademicYear: "2024/2025", TeacherID: "teacher-2", Active: true},
		},
		taken: map[string]bool{"teacher-1|X IPA 1|2024/2025": true},
	}
	users := userLookupFake{
		"teacher-1": {ID: "teacher-1", Role: models.RoleTeacher, Active: true},
		"teacher-2": {ID: "teacher-2", Role: models.RoleTeacher, Active: true},
		"student-1": {ID: "student-1", Role: models.RoleStudent, Active: true},
	}
	return NewClassService(repo, users, weightTotalFake(total), grading.DefaultConfig(), nil, nil), repo
}

func TestClassServiceListScopesTeachers(t *testing.T) {
	svc, repo := newClassServiceFixture(0)

	classes, pagination, err := svc.List(context.Background(), models.ClassFilter{TeacherID: "teacher-2"}, models.Actor{UserID: "teacher-1", Role: models.RoleTeacher})
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", repo.lastFilter.TeacherID)
	require.Len(t, classes, 1)
	assert.Equal(t, "class-1", classes[0].ID)
	assert.Equal(t, 1, pagination.TotalCount)

	all, _, err := svc.List(context.Background(), models.ClassFilter{}, models.Actor{UserID: "admin", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestClassServiceGetIncludesWeightSummary(t *testing.T) {
	svc, _ := newClassServiceFixture(85)

	detail, err := svc.Get(context.Background(), "class-1")
	require.NoError(t, err)
	require.NotNil(t, detail.WeightSummary)
	assert.Equal(t, 85.0, detail.WeightSummary.TotalWeight)
	assert.Equal(t, 15.0, detail.WeightSummary.Remaining)
	assert.False(t, detail.WeightSummary.IsValid)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestClassServiceCreate(t *testing.T) {
	svc, _ := newClassServiceFixture(0)
	ctx := context.Background()
	teacher := models.Actor{UserID: "teacher-1", Role: models.RoleTeacher}
	admin := models.Actor{UserID: "admin", Role: models.RoleAdmin}

	class, err := svc.Create(ctx, CreateClassRequest{Name: " XI IPA 1 ", Subject: "Kimia", AcademicYear: "2024/2025"}, teacher)
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", class.TeacherID)
	assert.Equal(t, "XI IPA 1", class.Name)
	assert.True(t, class.Active)

	_, err = svc.Create(ctx, CreateClassRequest{Name: "X IPA 1", Subject: "Kimia", AcademicYear: "2024/2025"}, teacher)
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = svc.Create(ctx, CreateClassRequest{Name: "Y", Subject: "Kimia", AcademicYear: "2024/2025", TeacherID: "teacher-2"}, teacher)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.Create(ctx, CreateClassRequest{Name: "Y", Subject: "Kimia", AcademicYear: "2024/2025"}, admin)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Create(ctx, CreateClassRequest{Name: "Y", Subject: "Kimia", AcademicYear: "2024/2025", TeacherID: "student-1"}, admin)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	class, err = svc.Create(ctx, CreateClassRequest{Name: "Y", Subject: "Kimia", AcademicYear: "2024/2025", TeacherID: "teacher-2"}, admin)
	require.NoError(t, err)
	assert.Equal(t, "teacher-2", class.TeacherID)
}

func TestClassServiceUpdateReassignRequiresAdmin(t *testing.T) {
	svc, repo := newClassServiceFixture(0)
	ctx := context.Background()
	inactive := false
	req := UpdateClassRequest{Name: "X IPA 2", Subject: "Fisika", AcademicYear: "2024/2025", TeacherID: "teacher-1", Active: &inactive}

	_, err := svc.Update(ctx, "class-2", req, models.Actor{UserID: "teacher-2", Role: models.RoleTeacher})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	class, err := svc.Update(ctx, "class-2", req, models.Actor{UserID: "admin", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", class.TeacherID)
	assert.False(t, repo.classes["class-2"].Active)

	_, err = svc.Update(ctx, "missing", req, models.Actor{Role: models.RoleAdmin})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestClassServiceDelete(t *testing.T) {
	svc, repo := newClassServiceFixture(0)

	require.NoError(t, svc.Delete(context.Background(), "class-1"))
	assert.Equal(t, []string{"class-1"}, repo.deleted)

	err := svc.Delete(context.Background(), "class-1")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
