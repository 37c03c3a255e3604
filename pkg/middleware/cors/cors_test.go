package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func request(origins []string, method, origin string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(origins))
	r.Any("/evaluations", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(method, "/evaluations", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	rec := request([]string{"https://app.cliniclink.test/"}, http.MethodGet, "https://APP.cliniclink.test")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://APP.cliniclink.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	rec := request([]string{"https://app.cliniclink.test"}, http.MethodGet, "https://evil.test")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSPreflight(t *testing.T) {
	rec := request(nil, http.MethodOptions, "https://any.test")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://any.test", rec.Header().Get("Access-Control-Allow-Origin"))
}
