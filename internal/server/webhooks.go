package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/payflow/internal/observability/context"
)

// maxWebhookBody caps the ingress payload at 1 MiB; provider events are
// well under this.
const maxWebhookBody = 1 << 20

// IngestWebhook is the public provider callback endpoint. The tenant rides
// in the path because providers cannot send custom headers. Authenticity
// comes from the provider signature, verified against the tenant's stored
// webhook secret before anything is applied.
func (s *Server) IngestWebhook(c *gin.Context) {
	orgID, err := snowflake.ParseString(c.Param("org_id"))
	if err != nil || orgID == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	providerKind := c.Param("provider")

	ctx := obscontext.WithOrgID(c.Request.Context(), orgID.String())

	if s.webhookLimiter != nil {
		result, err := s.webhookLimiter.Allow(ctx, orgID.String())
		if err == nil && result != nil && !result.Allowed {
			s.obsMetrics.RecordRateLimitDenied(ctx, orgID.String(), "webhook", "token_bucket")
			if result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			}
			AbortWithError(c, ErrTooManyRequest)
			return
		}
		if err == nil && result != nil {
			s.obsMetrics.RecordRateLimitAllowed(ctx, orgID.String(), "webhook")
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		signature = c.GetHeader("X-Signature")
	}

	if err := s.paymentSvc.ApplyWebhook(ctx, orgID, providerKind, body, signature); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
