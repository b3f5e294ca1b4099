package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-grading-api/internal/models"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
)

type mockUserRepo struct {
	users      map[string]*models.User
	lastFilter models.UserFilter
	auditLogs  []*models.AuditLog
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	m.lastFilter = filter
	var users []models.User
	for _, u := range m.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		users = append(users, *u)
	}
	return users, len(users), nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := m.users[id]; ok {
		copy := *user
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	for _, u := range m.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockUserRepo) Create(ctx context.Context, exec sqlx.ExtContext, user *models.User) error {
	user.ID = "user-new"
	copy := *user
	m.users[user.ID] = &copy
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	copy := *user
	m.users[user.ID] = &copy
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	if user, ok := m.users[id]; ok {
		user.Active = false
		return nil
	}
	return sql.ErrNoRows
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func newUserFixture() (*UserService, *mockUserRepo) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"admin": {ID: "admin", Email: "admin@example.com", Role: models.RoleAdmin, Active: true},
		"1":     {ID: "1", Email: "a@example.com", FullName: "Old", Role: models.RoleTeacher, Active: true},
	}}
	return NewUserService(repo, validator.New(), zap.NewNop()), repo
}

func TestUserServiceList(t *testing.T) {
	svc, repo := newUserFixture()
	role := models.RoleTeacher

	users, pagination, err := svc.List(context.Background(), models.UserFilter{Role: &role, Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, pagination.TotalCount)
	assert.Equal(t, 2, pagination.Page)
	assert.Equal(t, &role, repo.lastFilter.Role)
}

func TestUserServiceCreate(t *testing.T) {
	svc, repo := newUserFixture()
	actor := models.Actor{UserID: "admin", Role: models.RoleAdmin, IP: "127.0.0.1"}

	user, err := svc.Create(context.Background(), CreateUserRequest{Email: "ORTU@EXAMPLE.COM", FullName: "Pak Budi", Password: "secret123", Role: models.RoleParent}, actor)
	require.NoError(t, err)
	assert.Equal(t, "ortu@example.com", user.Email)
	assert.True(t, user.Active)
	assert.NotEqual(t, "secret123", user.PasswordHash)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, "127.0.0.1", repo.auditLogs[0].IPAddress)

	_, err = svc.Create(context.Background(), CreateUserRequest{Email: "a@example.com", FullName: "Dup", Password: "secret123", Role: models.RoleTeacher}, actor)
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = svc.Create(context.Background(), CreateUserRequest{Email: "x@example.com", FullName: "X", Password: "secret123", Role: "SUPERADMIN"}, actor)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestUserServiceUpdate(t *testing.T) {
	svc, repo := newUserFixture()
	admin := models.Actor{UserID: "admin", Role: models.RoleAdmin}
	active := false

	user, err := svc.Update(context.Background(), "1", UpdateUserRequest{FullName: "New", Role: models.RoleAdmin, Active: &active}, admin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)
	assert.False(t, user.Active)
	assert.NotEmpty(t, repo.auditLogs)

	_, err = svc.Update(context.Background(), "admin", UpdateUserRequest{FullName: "Me", Role: models.RoleTeacher}, admin)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.Update(context.Background(), "missing", UpdateUserRequest{FullName: "Me", Role: models.RoleTeacher}, admin)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestUserServiceDelete(t *testing.T) {
	svc, repo := newUserFixture()
	admin := models.Actor{UserID: "admin", Role: models.RoleAdmin}

	require.NoError(t, svc.Delete(context.Background(), "1", admin))
	assert.False(t, repo.users["1"].Active)
	assert.NotEmpty(t, repo.auditLogs)

	assert.ErrorIs(t, svc.Delete(context.Background(), "admin", admin), appErrors.ErrForbidden)
}
