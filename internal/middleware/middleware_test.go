package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cliniclink-api/internal/models"
	"github.com/noah-isme/cliniclink-api/internal/service"
	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
)

type auditRecorder struct {
	logs []*models.AuditLog
}

func (r *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.logs = append(r.logs, log)
	return nil
}

func withClaims(role models.UserRole, id string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: id, Role: role})
		c.Next()
	}
}

func serve(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		role   models.UserRole
		status int
	}{
		{models.RoleAdmin, http.StatusOK},
		{models.RoleCoordinator, http.StatusOK},
		{models.RolePreceptor, http.StatusForbidden},
		{models.RoleStudent, http.StatusForbidden},
	}
	for _, tc := range cases {
		router := gin.New()
		router.GET("/evaluation-templates", withClaims(tc.role, "u-1"), RequireRoles(models.RoleAdmin, models.RoleCoordinator), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		w := serve(router, http.MethodGet, "/evaluation-templates")
		assert.Equal(t, tc.status, w.Code, string(tc.role))
	}
}

func TestRequireRolesWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/x", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/x").Code)
}

type validatorStub struct {
	claims *models.JWTClaims
	err    error
	seen   string
}

func (v *validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	v.seen = token
	return v.claims, v.err
}

func TestJWT(t *testing.T) {
	gin.SetMode(gin.TestMode)
	validator := &validatorStub{claims: &models.JWTClaims{UserID: "prec-1", Role: models.RolePreceptor, UniversityID: "uni-1"}}
	var actor models.CurrentUser
	router := gin.New()
	router.GET("/me", JWT(validator), func(c *gin.Context) {
		actor = Claims(c).CurrentUser()
		c.Status(http.StatusOK)
	})

	for _, header := range []string{"", "Basic abc", "Bearer ", "token-without-scheme"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", header)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
		assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer  abc.def.ghi")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc.def.ghi", validator.seen)
	assert.Equal(t, "uni-1", actor.UniversityID)

	validator.err = appErrors.Clone(appErrors.ErrUnauthorized, "token expired")
	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer stale")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "token expired")
}

func TestClaimsOutsideProtectedRoutes(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, Claims(c))
	assert.Equal(t, models.CurrentUser{}, Claims(c).CurrentUser())
}

func TestAuditRecordsSuccessfulWrites(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := &auditRecorder{}
	router := gin.New()
	router.PUT("/evaluation-templates/:id", withClaims(models.RoleCoordinator, "coord-1"), Audit(rec, nil, models.AuditActionTemplateWrite, "evaluation_template"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.DELETE("/evaluation-templates/:id", withClaims(models.RoleCoordinator, "coord-1"), Audit(rec, nil, models.AuditActionTemplateDelete, "evaluation_template"), func(c *gin.Context) {
		c.Status(http.StatusConflict)
	})

	serve(router, http.MethodPut, "/evaluation-templates/tpl-1")
	serve(router, http.MethodDelete, "/evaluation-templates/tpl-1")

	require.Len(t, rec.logs, 1)
	log := rec.logs[0]
	assert.Equal(t, models.AuditActionTemplateWrite, log.Action)
	require.NotNil(t, log.ResourceID)
	assert.Equal(t, "tpl-1", *log.ResourceID)
	require.NotNil(t, log.UserID)
	assert.Equal(t, "coord-1", *log.UserID)
	assert.Contains(t, string(log.NewValues), `"route":"/evaluation-templates/:id"`)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	router := gin.New()
	router.Use(Metrics(metrics))
	router.GET("/evaluations/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	serve(router, http.MethodGet, "/evaluations/ev-1")
	serve(router, http.MethodGet, "/nowhere/at/all")

	body := serve(router, http.MethodGet, "/metrics").Body.String()
	assert.Contains(t, body, `path="/evaluations/:id"`)
	assert.Contains(t, body, `path="unmatched"`)
	assert.NotContains(t, body, "ev-1")
	assert.NotContains(t, body, "/nowhere")
}

func TestResponseMetaCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var meta map[string]interface{}
	router := gin.New()
	router.Use(WithResponseMeta())
	router.GET("/x", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})
	serve(router, http.MethodGet, "/x")
	assert.Equal(t, true, meta["cache_hit"])
}

type observedRequest struct {
	method, path string
	status       int
}

type observerStub struct{ seen []observedRequest }

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, _ time.Duration) {
	o.seen = append(o.seen, observedRequest{method, path, status})
}

func TestMetricsSkipsHealthRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	obs := &observerStub{}
	router := gin.New()
	router.Use(observe(obs, []string{"/health", "/metrics"}))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/evaluations", func(c *gin.Context) { c.Status(http.StatusCreated) })

	serve(router, http.MethodGet, "/health")
	serve(router, http.MethodGet, "/metrics")
	serve(router, http.MethodPost, "/evaluations")

	assert.Equal(t, []observedRequest{{http.MethodPost, "/evaluations", http.StatusCreated}}, obs.seen)
}
