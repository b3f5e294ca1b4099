package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-grading-api/internal/grading"
	"github.com/noah-isme/sma-grading-api/internal/models"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
	"github.com/noah-isme/sma-grading-api/pkg/export"
)

// Supported gradebook formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type classDetailReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.ClassDetail, error)
}

type activeAssessmentReader interface {
	ListActive(ctx context.Context, exec sqlx.ExtContext, classID string) ([]models.AssessmentType, error)
}

type gradebookSource interface {
	ClassGrades(ctx context.Context, classID string) ([]models.GradeSnapshotDetail, error)
	ClassStatistics(ctx context.Context, classID string) (*models.ClassStatistics, error)
}

type tableRenderer interface {
	ContentType() string
	Extension() string
	Render(table export.Table) ([]byte, error)
}

// ExportedFile is a rendered document ready to be streamed.
type ExportedFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders class gradebooks from the stored grade snapshots.
type ExportService struct {
	classes     classDetailReader
	assessments activeAssessmentReader
	grades      gradebookSource
	renderers   map[string]tableRenderer
	logger      *zap.Logger
	now         func() time.Time
}

// NewExportService builds an export service with CSV and PDF renderers.
func NewExportService(classes classDetailReader, assessments activeAssessmentReader, grades gradebookSource, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		classes:     classes,
		assessments: assessments,
		grades:      grades,
		renderers: map[string]tableRenderer{
			ExportFormatCSV: export.NewCSVExporter(),
			ExportFormatPDF: export.NewPDFExporter(),
		},
		logger: logger,
		now:    time.Now,
	}
}

// Gradebook renders one row per graded student with the score of every active assessment type.
func (s *ExportService) Gradebook(ctx context.Context, classID, format string) (*ExportedFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	class, err := s.classes.FindDetailByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	active, err := s.assessments.ListActive(ctx, nil, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment types")
	}
	snaps, err := s.grades.ClassGrades(ctx, classID)
	if err != nil {
		return nil, err
	}
	stats, err := s.grades.ClassStatistics(ctx, classID)
	if err != nil {
		return nil, err
	}

	table := export.Table{
		Title:    fmt.Sprintf("Gradebook %s", class.Name),
		Subtitle: fmt.Sprintf("%s | %s | %s", class.Subject, class.AcademicYear, class.TeacherName),
		Headers:  []string{"Student Number", "Name"},
	}
	for _, item := range active {
		table.Headers = append(table.Headers, fmt.Sprintf("%s (%s%%)", item.Name, formatScore(item.Weight)))
	}
	table.Headers = append(table.Headers, "Total", "Percentage", "Grade")

	for _, snap := range snaps {
		row, err := gradebookRow(snap, active)
		if err != nil {
			s.logger.Warn("skipping unreadable grade snapshot", zap.String("student_id", snap.StudentID), zap.Error(err))
			continue
		}
		table.Rows = append(table.Rows, row)
	}
	table.Footer = gradebookFooter(stats)

	data, err := renderer.Render(table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render gradebook")
	}
	return &ExportedFile{
		Filename:    fmt.Sprintf("gradebook-%s-%s.%s", slugify(class.Name), s.now().Format("20060102"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Data:        data,
	}, nil
}

func gradebookRow(snap models.GradeSnapshotDetail, active []models.AssessmentType) ([]string, error) {
	var breakdown []grading.BreakdownItem
	if len(snap.Breakdown) > 0 {
		if err := json.Unmarshal(snap.Breakdown, &breakdown); err != nil {
			return nil, err
		}
	}
	scores := make(map[string]*float64, len(breakdown))
	for _, item := range breakdown {
		scores[item.AssessmentTypeID] = item.Score
	}

	row := []string{snap.StudentNumber, snap.StudentName}
	for _, item := range active {
		row = append(row, optionalScore(scores[item.ID]))
	}
	letter := "-"
	if snap.GradeLetter != nil {
		letter = *snap.GradeLetter
	}
	return append(row, optionalScore(snap.CurrentTotal), optionalScore(snap.Percentage), letter), nil
}

func gradebookFooter(stats *models.ClassStatistics) []string {
	if stats == nil {
		return nil
	}
	footer := []string{fmt.Sprintf("Graded students: %d of %d", stats.GradedCount, stats.StudentCount)}
	if stats.Summary.Average != nil {
		footer = append(footer, fmt.Sprintf("Class average: %s", formatScore(*stats.Summary.Average)))
	}
	if len(stats.AtRisk) > 0 {
		footer = append(footer, fmt.Sprintf("Students at risk: %d", len(stats.AtRisk)))
	}
	return footer
}

func optionalScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return formatScore(*v)
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		return "class"
	}
	return slug
}
