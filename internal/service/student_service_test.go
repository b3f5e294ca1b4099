package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-grading-api/internal/models"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
)

type studentRepoFake struct {
	students   map[string]models.StudentDetail
	numbers    map[string]bool
	createErr  error
	lastFilter models.StudentFilter
}

func (f *studentRepoFake) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	f.lastFilter = filter
	var out []models.StudentDetail
	for _, s := range f.students {
		if filter.ParentID != "" && (s.ParentID == nil || *s.ParentID != filter.ParentID) {
			continue
		}
		out = append(out, s)
	}
	return out, len(out), nil
}

func (f *studentRepoFake) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	s, ok := f.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (f *studentRepoFake) FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error) {
	for _, s := range f.students {
		if s.UserID == userID {
			return &s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *studentRepoFake) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	return f.numbers[number], nil
}

func (f *studentRepoFake) Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if f.createErr != nil {
		return f.createErr
	}
	student.ID = "stu-new"
	f.students[student.ID] = models.StudentDetail{Student: *student}
	return nil
}

func (f *studentRepoFake) UpdateClass(ctx context.Context, exec sqlx.ExtContext, id string, classID *string) error {
	s, ok := f.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.ClassID = classID
	f.students[id] = s
	return nil
}

func (f *studentRepoFake) UpdateParent(ctx context.Context, id string, parentID *string) error {
	s, ok := f.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.ParentID = parentID
	f.students[id] = s
	return nil
}

func (f *studentRepoFake) UpdateParentAccess(ctx context.Context, id string, allow bool) error {
	s, ok := f.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.AllowParentAccess = allow
	f.students[id] = s
	return nil
}

type studentUserFake struct {
	users   map[string]models.User
	created []models.User
}

func (f *studentUserFake) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (f *studentUserFake) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	for _, u := range f.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (f *studentUserFake) Create(ctx context.Context, exec sqlx.ExtContext, user *models.User) error {
	user.ID = "user-new"
	f.created = append(f.created, *user)
	return nil
}

type classFinderFake map[string]models.Class

func (f classFinderFake) FindByID(ctx context.Context, id string) (*models.Class, error) {
	c, ok := f[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

type studentFixture struct {
	svc    *StudentService
	repo   *studentRepoFake
	users  *studentUserFake
	recalc *recalculatorFake
	cache  *memoryCacheRepo
	audit  *auditFake
}

func newStudentFixture(db *sqlx.DB) *studentFixture {
	classA, parent := "class-1", "parent-1"
	f := &studentFixture{
		repo: &studentRepoFake{
			students: map[string]models.StudentDetail{
				"stu-1": {Student: models.Student{ID: "stu-1", UserID: "user-1", ClassID: &classA, ParentID: &parent, AllowParentAccess: true}},
				"stu-2": {Student: models.Student{ID: "stu-2", UserID: "user-2"}},
			},
			numbers: map[string]bool{"NIS-001": true},
		},
		users: &studentUserFake{users: map[string]models.User{
			"parent-1":  {ID: "parent-1", Email: "parent@example.com", Role: models.RoleParent, Active: true},
			"teacher-1": {ID: "teacher-1", Email: "teacher@example.com", Role: models.RoleTeacher, Active: true},
		}},
		recalc: &recalculatorFake{},
		cache:  newMemoryCacheRepo(),
		audit:  &auditFake{},
	}
	classes := classFinderFake{
		"class-1": {ID: "class-1", Active: true},
		"class-2": {ID: "class-2", Active: true},
		"closed":  {ID: "closed", Active: false},
	}
	cache := NewCacheService(f.cache, nil, 0, nil, true)
	f.svc = NewStudentService(db, f.repo, f.users, classes, f.recalc, cache, f.audit, nil, nil)
	return f
}

func TestStudentServiceCreateWritesUserAndStudentInOneTx(t *testing.T) {
	db, mock := newTxDB(t)
	f := newStudentFixture(db)
	classID := "class-1"

	mock.ExpectBegin()
	mock.ExpectCommit()

	student, err := f.svc.Create(context.Background(), CreateStudentRequest{
		Email:         " New.Student@Example.com ",
		Password:      "secret123",
		FullName:      "Dewi Lestari",
		StudentNumber: "NIS-002",
		ClassID:       &classID,
	}, models.Actor{UserID: "admin"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, f.users.created, 1)
	created := f.users.created[0]
	assert.Equal(t, "new.student@example.com", created.Email)
	assert.Equal(t, models.RoleStudent, created.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("secret123")))

	assert.Equal(t, "stu-new", student.ID)
	assert.Equal(t, "user-new", student.UserID)
	assert.Equal(t, "Dewi Lestari", student.FullName)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.AuditActionStudentCreate, f.audit.entries[0].Action)
}

func TestStudentServiceCreateRejections(t *testing.T) {
	db, _ := newTxDB(t)
	f := newStudentFixture(db)
	closed, teacher := "closed", "teacher-1"
	base := CreateStudentRequest{Email: "x@example.com", Password: "secret123", FullName: "X", StudentNumber: "NIS-009"}

	cases := []struct {
		name string
		mut  func(r *CreateStudentRequest)
		want error
	}{
		{"duplicate email", func(r *CreateStudentRequest) { r.Email = "parent@example.com" }, appErrors.ErrConflict},
		{"duplicate number", func(r *CreateStudentRequest) { r.StudentNumber = "NIS-001" }, appErrors.ErrConflict},
		{"inactive class", func(r *CreateStudentRequest) { r.ClassID = &closed }, appErrors.ErrValidation},
		{"parent not a parent", func(r *CreateStudentRequest) { r.ParentID = &teacher }, appErrors.ErrValidation},
		{"short password", func(r *CreateStudentRequest) { r.Password = "short" }, appErrors.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mut(&req)
			_, err := f.svc.Create(context.Background(), req, models.Actor{})
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, f.users.created)
}

func TestStudentServiceCreateRollsBackOnUniqueViolation(t *testing.T) {
	db, mock := newTxDB(t)
	f := newStudentFixture(db)
	f.repo.createErr = &pq.Error{Code: "23505"}

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := f.svc.Create(context.Background(), CreateStudentRequest{Email: "y@example.com", Password: "secret123", FullName: "Y", StudentNumber: "NIS-010"}, models.Actor{})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentServiceAssignClassRecalculatesNewClass(t *testing.T) {
	db, mock := newTxDB(t)
	f := newStudentFixture(db)
	ctx := context.Background()
	target := "class-2"
	f.cache.entries[classStatisticsKey("class-1")] = []byte(`{}`)
	f.cache.entries[classStatisticsKey("class-2")] = []byte(`{}`)

	mock.ExpectBegin()
	mock.ExpectCommit()

	student, err := f.svc.AssignClass(ctx, "stu-1", AssignClassRequest{ClassID: &target}, models.Actor{UserID: "admin"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, "class-2", *student.ClassID)
	assert.Equal(t, []string{"stu-1/class-2"}, f.recalc.calls)
	assert.Empty(t, f.cache.entries)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.AuditActionClassChange, f.audit.entries[0].Action)
}

func TestStudentServiceAssignClassRollsBackWhenRecalculationFails(t *testing.T) {
	db, mock := newTxDB(t)
	f := newStudentFixture(db)
	f.recalc.err = errors.New("boom")
	target := "class-2"

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := f.svc.AssignClass(context.Background(), "stu-1", AssignClassRequest{ClassID: &target}, models.Actor{})
	assert.ErrorIs(t, err, appErrors.ErrInternal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentServiceParentLinks(t *testing.T) {
	db, _ := newTxDB(t)
	f := newStudentFixture(db)
	ctx := context.Background()
	parent, teacher := "parent-1", "teacher-1"

	_, err := f.svc.LinkParent(ctx, "stu-2", LinkParentRequest{ParentID: &teacher})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	student, err := f.svc.LinkParent(ctx, "stu-2", LinkParentRequest{ParentID: &parent})
	require.NoError(t, err)
	assert.Equal(t, "parent-1", *student.ParentID)

	children, err := f.svc.ListChildren(ctx, "parent-1")
	require.NoError(t, err)
	assert.Len(t, children, 2)

	deny := false
	student, err = f.svc.SetParentAccess(ctx, "stu-1", ParentAccessRequest{Allow: &deny})
	require.NoError(t, err)
	assert.False(t, student.AllowParentAccess)

	_, err = f.svc.SetParentAccess(ctx, "stu-1", ParentAccessRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.SetParentAccess(ctx, "missing", ParentAccessRequest{Allow: &deny})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestStudentServiceResolveMe(t *testing.T) {
	db, _ := newTxDB(t)
	f := newStudentFixture(db)
	ctx := context.Background()

	id, err := f.svc.Resolve(ctx, "me", models.Actor{UserID: "user-1", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.Equal(t, "stu-1", id)

	id, err = f.svc.Resolve(ctx, "stu-2", models.Actor{Role: models.RoleTeacher})
	require.NoError(t, err)
	assert.Equal(t, "stu-2", id)

	_, err = f.svc.Resolve(ctx, "me", models.Actor{UserID: "teacher-1", Role: models.RoleTeacher})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Resolve(ctx, "me", models.Actor{UserID: "ghost", Role: models.RoleStudent})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
