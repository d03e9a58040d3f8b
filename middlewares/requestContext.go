package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/bilan_backend/utils"
)

const (
	HeaderCorrelationId  = "X-Correlation-Id"
	HeaderOrganizationId = "X-Organization-Id"
	HeaderUserId         = "X-User-Id"
	HeaderUserName       = "X-User-Name"
)

// RequestContextMiddleware copies the caller identity headers into the request context and
// makes sure every request carries a correlation id. Identity is trusted as sent; the gateway
// in front of the service authenticates.
func RequestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := strings.TrimSpace(c.GetHeader(HeaderCorrelationId))
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), cid)
		if v := strings.TrimSpace(c.GetHeader(HeaderOrganizationId)); v != "" {
			ctx = utils.SetOrganizationIdInContext(ctx, v)
		}
		if v := strings.TrimSpace(c.GetHeader(HeaderUserId)); v != "" {
			ctx = utils.SetUserIdInContext(ctx, v)
		}
		if v := strings.TrimSpace(c.GetHeader(HeaderUserName)); v != "" {
			ctx = utils.SetUserNameInContext(ctx, v)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderCorrelationId, cid)
		c.Next()
	}
}
