package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-grading-api/internal/models"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
)

func newAccessPolicyFixture() *AccessPolicy {
	classA, parent := "class-a", "parent-1"
	classes := classFinderFake{
		"class-a": {ID: "class-a", TeacherID: "teacher-a", Active: true},
		"class-b": {ID: "class-b", TeacherID: "teacher-b", Active: true},
	}
	students := studentLookupFake{
		"stu-open":    {Student: models.Student{ID: "stu-open", UserID: "user-open", ClassID: &classA, ParentID: &parent, AllowParentAccess: true}},
		"stu-private": {Student: models.Student{ID: "stu-private", UserID: "user-private", ClassID: &classA, ParentID: &parent}},
		"stu-free":    {Student: models.Student{ID: "stu-free", UserID: "user-free"}},
	}
	assessments := assessmentLookupFake{"hw": {ID: "hw", ClassID: "class-b"}}
	marks := newMarkWriterFake()
	marks.marks["mark-1"] = &models.MarkDetail{Mark: models.Mark{ID: "mark-1"}, ClassID: "class-a"}
	return NewAccessPolicy(classes, students, assessments, marks)
}

func TestAccessPolicyManageClass(t *testing.T) {
	p := newAccessPolicyFixture()
	ctx := context.Background()

	assert.NoError(t, p.ManageClass(ctx, models.Actor{UserID: "root", Role: models.RoleAdmin}, "anything"))
	assert.NoError(t, p.ManageClass(ctx, models.Actor{UserID: "teacher-a", Role: models.RoleTeacher}, "class-a"))
	assert.ErrorIs(t, p.ManageClass(ctx, models.Actor{UserID: "teacher-a", Role: models.RoleTeacher}, "class-b"), appErrors.ErrForbidden)
	assert.ErrorIs(t, p.ManageClass(ctx, models.Actor{UserID: "teacher-a", Role: models.RoleTeacher}, "missing"), appErrors.ErrNotFound)
	assert.ErrorIs(t, p.ManageClass(ctx, models.Actor{UserID: "user-open", Role: models.RoleStudent}, "class-a"), appErrors.ErrForbidden)
}

func TestAccessPolicyViewStudent(t *testing.T) {
	p := newAccessPolicyFixture()
	ctx := context.Background()

	cases := []struct {
		name    string
		actor   models.Actor
		student string
		want    error
	}{
		{"admin", models.Actor{UserID: "root", Role: models.RoleAdmin}, "stu-free", nil},
		{"owning teacher", models.Actor{UserID: "teacher-a", Role: models.RoleTeacher}, "stu-open", nil},
		{"other teacher", models.Actor{UserID: "teacher-b", Role: models.RoleTeacher}, "stu-open", appErrors.ErrForbidden},
		{"teacher and unassigned student", models.Actor{UserID: "teacher-a", Role: models.RoleTeacher}, "stu-free", appErrors.ErrForbidden},
		{"student self", models.Actor{UserID: "user-open", Role: models.RoleStudent}, "stu-open", nil},
		{"student other", models.Actor{UserID: "user-open", Role: models.RoleStudent}, "stu-private", appErrors.ErrForbidden},
		{"parent allowed", models.Actor{UserID: "parent-1", Role: models.RoleParent}, "stu-open", nil},
		{"parent without consent", models.Actor{UserID: "parent-1", Role: models.RoleParent}, "stu-private", appErrors.ErrForbidden},
		{"unlinked parent", models.Actor{UserID: "parent-2", Role: models.RoleParent}, "stu-open", appErrors.ErrForbidden},
		{"missing student", models.Actor{UserID: "teacher-a", Role: models.RoleTeacher}, "ghost", appErrors.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := p.ViewStudent(ctx, tc.actor, tc.student)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAccessPolicyStudentPrivacyAndResources(t *testing.T) {
	p := newAccessPolicyFixture()
	ctx := context.Background()
	teacherA := models.Actor{UserID: "teacher-a", Role: models.RoleTeacher}

	assert.NoError(t, p.ManageStudentPrivacy(ctx, models.Actor{UserID: "user-private", Role: models.RoleStudent}, "stu-private"))
	assert.ErrorIs(t, p.ManageStudentPrivacy(ctx, models.Actor{UserID: "user-open", Role: models.RoleStudent}, "stu-private"), appErrors.ErrForbidden)
	assert.ErrorIs(t, p.ManageStudentPrivacy(ctx, models.Actor{UserID: "parent-1", Role: models.RoleParent}, "stu-private"), appErrors.ErrForbidden)

	assert.ErrorIs(t, p.ManageAssessmentType(ctx, teacherA, "hw"), appErrors.ErrForbidden)
	assert.NoError(t, p.ManageAssessmentType(ctx, models.Actor{UserID: "teacher-b", Role: models.RoleTeacher}, "hw"))
	assert.ErrorIs(t, p.ManageAssessmentType(ctx, teacherA, "missing"), appErrors.ErrNotFound)

	assert.NoError(t, p.ManageMark(ctx, teacherA, "mark-1"))
	assert.ErrorIs(t, p.ManageMark(ctx, models.Actor{UserID: "teacher-b", Role: models.RoleTeacher}, "mark-1"), appErrors.ErrForbidden)
	assert.ErrorIs(t, p.ManageMark(ctx, teacherA, "missing"), appErrors.ErrNotFound)
}
