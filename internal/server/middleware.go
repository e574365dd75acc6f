package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/payflow/internal/observability/context"
)

const (
	HeaderOrg       = "X-Org-ID"
	contextOrgIDKey = "org_id"
)

// OrgContext resolves the tenant from the X-Org-ID header. Every API route
// is tenant-scoped; requests without a valid org are rejected before any
// handler runs.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextOrgIDKey, orgID)
		ctx := obscontext.WithOrgID(c.Request.Context(), orgID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func orgFromContext(c *gin.Context) (snowflake.ID, bool) {
	v, ok := c.Get(contextOrgIDKey)
	if !ok {
		return 0, false
	}
	orgID, ok := v.(snowflake.ID)
	return orgID, ok
}
