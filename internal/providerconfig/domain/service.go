package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	ListCatalog(ctx context.Context) ([]CatalogProviderResponse, error)
	ListConfigs(ctx context.Context, orgID snowflake.ID) ([]ConfigSummary, error)
	UpsertConfig(ctx context.Context, orgID snowflake.ID, req UpsertRequest) (*ConfigSummary, error)
	SetActive(ctx context.Context, orgID snowflake.ID, provider string, isActive bool) (*ConfigSummary, error)
	SetPrimary(ctx context.Context, orgID snowflake.ID, provider string) (*ConfigSummary, error)
}

// CredentialResolver yields decrypted tenant-scoped gateway credentials.
// Callers must treat a nil map as "not configured" and must never log or
// persist the returned values.
type CredentialResolver interface {
	Retrieve(ctx context.Context, orgID snowflake.ID, provider string) (map[string]string, error)
}

type CatalogProviderResponse struct {
	Provider        string  `json:"provider"`
	DisplayName     string  `json:"display_name"`
	Description     *string `json:"description,omitempty"`
	SupportsWebhook bool    `json:"supports_webhook"`
	SupportsRefund  bool    `json:"supports_refund"`
}

type ConfigSummary struct {
	Provider   string `json:"provider"`
	IsActive   bool   `json:"is_active"`
	IsPrimary  bool   `json:"is_primary"`
	Configured bool   `json:"configured"`
}

type UpsertRequest struct {
	Provider  string         `json:"provider"`
	Config    map[string]any `json:"config"`
	IsPrimary bool           `json:"is_primary"`
	Priority  int            `json:"priority"`
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrInvalidConfig        = errors.New("invalid_config")
	ErrNotFound             = errors.New("not_found")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
	ErrCorruptCredentials   = errors.New("corrupt_credentials")
)
