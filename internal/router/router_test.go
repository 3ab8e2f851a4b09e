package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/models"
	"github.com/noah-isme/classroom-api/internal/service"
	"github.com/noah-isme/classroom-api/pkg/config"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
)

type stubTokens map[string]*models.JWTClaims

func (s stubTokens) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, appErrors.ErrUnauthorized
}

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{APIPrefix: "/api/v1", Metrics: config.MetricsConfig{Enabled: true}}
	tokens := stubTokens{
		"student": {UserID: "650000000000000000000004", Role: models.RoleStudent},
		"teacher": {UserID: "650000000000000000000002", Role: models.RoleTeacher},
	}
	return New(Options{Config: cfg, Logger: zap.NewNop(), Tokens: tokens, Metrics: service.NewMetricsService()}, Handlers{})
}

func TestRoutesRegistered(t *testing.T) {
	r := newTestEngine()
	routes := make(map[string]bool)
	for _, route := range r.Routes() {
		routes[route.Method+" "+route.Path] = true
	}

	for _, want := range []string{
		"POST /api/v1/users/register",
		"POST /api/v1/users/login",
		"GET /api/v1/users/me",
		"PUT /api/v1/users/me/password",
		"PATCH /api/v1/users/:id/role",
		"GET /api/v1/courses/mine",
		"POST /api/v1/courses/:id/enroll",
		"DELETE /api/v1/courses/:id/enroll",
		"DELETE /api/v1/courses/:id/unenroll",
		"GET /api/v1/courses/:id/students",
		"GET /api/v1/teachers/courses/:id/pending",
		"PATCH /api/v1/teachers/courses/:id/approve",
		"PATCH /api/v1/teachers/courses/:id/reject",
		"POST /api/v1/admin/courses/:id/students",
		"DELETE /api/v1/admin/courses/:id/students/:studentId",
		"POST /api/v1/assignments/:id/submit",
		"POST /api/v1/assignments/:id/grade",
		"GET /api/v1/notifications/unread-count",
		"PATCH /api/v1/notifications/:id/read",
		"POST /api/v1/courses/:id/exports",
		"GET /api/v1/exports/download",
		"GET /api/v1/admin/audit-logs/:resource/:id",
		"GET /health",
		"GET /ready",
		"GET /metrics",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}
}

func TestRoleGates(t *testing.T) {
	r := newTestEngine()

	cases := []struct {
		method, path, token string
		status              int
	}{
		{http.MethodGet, "/api/v1/courses", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/teachers/courses", "student", http.StatusForbidden},
		{http.MethodPost, "/api/v1/admin/courses/650000000000000000000009/students", "teacher", http.StatusForbidden},
		{http.MethodPost, "/api/v1/courses/650000000000000000000009/enroll", "teacher", http.StatusForbidden},
		{http.MethodPost, "/api/v1/assignments/650000000000000000000009/grade", "student", http.StatusForbidden},
		{http.MethodGet, "/api/v1/users", "teacher", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, tc.status, rec.Code, "%s %s as %q", tc.method, tc.path, tc.token)
	}
}
