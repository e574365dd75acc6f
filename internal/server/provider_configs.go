package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	providerconfigdomain "github.com/smallbiznis/payflow/internal/providerconfig/domain"
)

func (s *Server) ListProviderCatalog(c *gin.Context) {
	catalog, err := s.providerConfigSvc.ListCatalog(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": catalog})
}

func (s *Server) ListProviderConfigs(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	configs, err := s.providerConfigSvc.ListConfigs(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"configs": configs})
}

func (s *Server) UpsertProviderConfig(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req providerconfigdomain.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.Provider = c.Param("provider")

	summary, err := s.providerConfigSvc.UpsertConfig(c.Request.Context(), orgID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Cached resolutions may hold the previous credentials.
	s.resolver.Invalidate(orgID, req.Provider)

	c.JSON(http.StatusOK, summary)
}

type setActiveRequest struct {
	IsActive bool `json:"is_active"`
}

func (s *Server) SetProviderActive(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	req := setActiveRequest{IsActive: true}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	provider := c.Param("provider")
	summary, err := s.providerConfigSvc.SetActive(c.Request.Context(), orgID, provider, req.IsActive)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.resolver.Invalidate(orgID, provider)

	c.JSON(http.StatusOK, summary)
}

func (s *Server) SetProviderPrimary(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	provider := c.Param("provider")
	summary, err := s.providerConfigSvc.SetPrimary(c.Request.Context(), orgID, provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *Server) ProviderHealth(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	result, err := s.resolver.HealthCheck(c.Request.Context(), orgID, c.Param("provider"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
