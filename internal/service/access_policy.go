package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-grading-api/internal/models"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
)

type markLookup interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.MarkDetail, error)
}

// AccessPolicy decides whether an actor may touch a class, student, assessment type or mark.
// Admins may do everything, teachers only act within classes they own, students only read
// themselves and parents read linked children that granted access.
type AccessPolicy struct {
	classes     classFinder
	students    markStudentReader
	assessments markAssessmentReader
	marks       markLookup
}

// NewAccessPolicy constructs AccessPolicy.
func NewAccessPolicy(classes classFinder, students markStudentReader, assessments markAssessmentReader, marks markLookup) *AccessPolicy {
	return &AccessPolicy{classes: classes, students: students, assessments: assessments, marks: marks}
}

// ManageClass allows admins and the owning teacher.
func (p *AccessPolicy) ManageClass(ctx context.Context, actor models.Actor, classID string) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTeacher:
		class, err := p.classes.FindByID(ctx, classID)
		if err != nil {
			return lookupError(err, "class not found")
		}
		if class.TeacherID != actor.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "class belongs to another teacher")
		}
		return nil
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions")
	}
}

// ViewStudent allows admins, the teacher of the student's class, the student and a permitted parent.
func (p *AccessPolicy) ViewStudent(ctx context.Context, actor models.Actor, studentID string) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	student, err := p.students.FindByID(ctx, studentID)
	if err != nil {
		return lookupError(err, "student not found")
	}
	switch actor.Role {
	case models.RoleTeacher:
		if student.ClassID == nil {
			return appErrors.Clone(appErrors.ErrForbidden, "student is not in one of your classes")
		}
		if err := p.ManageClass(ctx, actor, *student.ClassID); err != nil {
			if errors.Is(err, appErrors.ErrForbidden) {
				return appErrors.Clone(appErrors.ErrForbidden, "student is not in one of your classes")
			}
			return err
		}
		return nil
	case models.RoleStudent:
		if student.UserID == actor.UserID {
			return nil
		}
	case models.RoleParent:
		if student.ParentID != nil && *student.ParentID == actor.UserID {
			if student.AllowParentAccess {
				return nil
			}
			return appErrors.Clone(appErrors.ErrForbidden, "student has not granted parent access")
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions")
}

// ManageStudentPrivacy allows admins and the student themselves.
func (p *AccessPolicy) ManageStudentPrivacy(ctx context.Context, actor models.Actor, studentID string) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if actor.Role != models.RoleStudent {
		return appErrors.Clone(appErrors.ErrForbidden, "only the student can change parent access")
	}
	student, err := p.students.FindByID(ctx, studentID)
	if err != nil {
		return lookupError(err, "student not found")
	}
	if student.UserID != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions")
	}
	return nil
}

// ManageAssessmentType resolves the owning class and applies ManageClass.
func (p *AccessPolicy) ManageAssessmentType(ctx context.Context, actor models.Actor, id string) error {
	item, err := p.assessments.FindByID(ctx, id)
	if err != nil {
		return lookupError(err, "assessment type not found")
	}
	return p.ManageClass(ctx, actor, item.ClassID)
}

// ManageMark resolves the mark's class and applies ManageClass.
func (p *AccessPolicy) ManageMark(ctx context.Context, actor models.Actor, id string) error {
	mark, err := p.marks.FindByID(ctx, nil, id)
	if err != nil {
		return lookupError(err, "mark not found")
	}
	return p.ManageClass(ctx, actor, mark.ClassID)
}

func lookupError(err error, notFound string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check access")
}
