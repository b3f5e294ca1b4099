package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-grading-api/internal/middleware"
	"github.com/noah-isme/sma-grading-api/internal/models"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
)

type envelopeBody struct {
	Data       json.RawMessage        `json:"data"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
	Error      *struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

func newTestContext(method, target string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	var payload []byte
	switch v := body.(type) {
	case nil:
	case string:
		payload = []byte(v)
	default:
		payload, _ = json.Marshal(v)
	}
	c.Request = httptest.NewRequest(method, target, bytes.NewReader(payload))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Request.Header.Set("User-Agent", "handler-test")
	return c, rec
}

func withUser(c *gin.Context, userID string, role models.UserRole) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: userID, Role: role})
}

func withParams(c *gin.Context, pairs ...string) {
	for i := 0; i+1 < len(pairs); i += 2 {
		c.Params = append(c.Params, gin.Param{Key: pairs[i], Value: pairs[i+1]})
	}
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelopeBody {
	t.Helper()
	var env envelopeBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

// policyFake denies the listed resource ids and allows everything else.
type policyFake struct {
	denied  map[string]error
	checked []string
}

func (p *policyFake) check(kind, id string) error {
	p.checked = append(p.checked, kind+":"+id)
	if err, ok := p.denied[id]; ok {
		return err
	}
	return nil
}

func (p *policyFake) ManageClass(ctx context.Context, actor models.Actor, classID string) error {
	return p.check("class", classID)
}

func (p *policyFake) ViewStudent(ctx context.Context, actor models.Actor, studentID string) error {
	return p.check("student", studentID)
}

func (p *policyFake) ManageStudentPrivacy(ctx context.Context, actor models.Actor, studentID string) error {
	return p.check("privacy", studentID)
}

func (p *policyFake) ManageAssessmentType(ctx context.Context, actor models.Actor, id string) error {
	return p.check("assessment", id)
}

func (p *policyFake) ManageMark(ctx context.Context, actor models.Actor, id string) error {
	return p.check("mark", id)
}

func denyPolicy(ids ...string) *policyFake {
	p := &policyFake{denied: map[string]error{}}
	for _, id := range ids {
		p.denied[id] = appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions")
	}
	return p
}

// meResolver maps "me" to the student record of the caller.
type meResolver map[string]string

func (r meResolver) Resolve(ctx context.Context, ref string, actor models.Actor) (string, error) {
	if ref != "me" {
		return ref, nil
	}
	if id, ok := r[actor.UserID]; ok {
		return id, nil
	}
	return "", appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
}
