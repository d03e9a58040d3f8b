package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/bilan_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(seen *gin.H) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestContextMiddleware())
	r.GET("/", func(c *gin.Context) {
		ctx := c.Request.Context()
		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		org, _ := utils.GetOrganizationIdFromContext(ctx)
		*seen = gin.H{"cid": cid, "org": org, "actor": utils.ActorFromContext(ctx)}
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRequestContext_GeneratesCorrelationId(t *testing.T) {
	var seen gin.H
	w := httptest.NewRecorder()
	newRouter(&seen).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusNoContent, w.Code)
	cid := w.Header().Get(HeaderCorrelationId)
	assert.Len(t, cid, 36)
	assert.Equal(t, cid, seen["cid"])
	assert.Equal(t, "System", seen["actor"])
	assert.Equal(t, "", seen["org"])
}

func TestRequestContext_PropagatesHeaders(t *testing.T) {
	var seen gin.H
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationId, "abc-123")
	req.Header.Set(HeaderOrganizationId, "12345678901234")
	req.Header.Set(HeaderUserId, "u-7")
	req.Header.Set(HeaderUserName, "Jeanne Roux")
	w := httptest.NewRecorder()
	newRouter(&seen).ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(HeaderCorrelationId))
	assert.Equal(t, "abc-123", seen["cid"])
	assert.Equal(t, "12345678901234", seen["org"])
	assert.Equal(t, "Jeanne Roux", seen["actor"])
}
