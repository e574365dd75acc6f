package service

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/providerconfig/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Cfg   config.Config
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	repo   domain.Repository
	genID  *snowflake.Node
	encKey []byte
}

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func New(p Params) domain.Service {
	secret := strings.TrimSpace(p.Cfg.ProviderConfigSecret)
	var key []byte
	if secret != "" {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}

	return &Service{
		db:     p.DB,
		log:    p.Log.Named("providerconfig.service"),
		repo:   p.Repo,
		genID:  p.GenID,
		encKey: key,
	}
}

// NewCredentialResolver exposes the same service as the narrow
// CredentialResolver interface consumed by the provider resolver.
func NewCredentialResolver(svc domain.Service) domain.CredentialResolver {
	return svc.(*Service)
}

func (s *Service) ListCatalog(ctx context.Context) ([]domain.CatalogProviderResponse, error) {
	items, err := s.repo.ListCatalog(ctx, s.db)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.CatalogProviderResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.CatalogProviderResponse{
			Provider:        item.Provider,
			DisplayName:     item.DisplayName,
			Description:     item.Description,
			SupportsWebhook: item.SupportsWebhook,
			SupportsRefund:  item.SupportsRefund,
		})
	}

	return resp, nil
}

func (s *Service) ListConfigs(ctx context.Context, orgID snowflake.ID) ([]domain.ConfigSummary, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	items, err := s.repo.ListConfigs(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.ConfigSummary, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.ConfigSummary{
			Provider:   item.Provider,
			IsActive:   item.IsActive,
			IsPrimary:  item.IsPrimary,
			Configured: true,
		})
	}

	return resp, nil
}

func (s *Service) UpsertConfig(ctx context.Context, orgID snowflake.ID, req domain.UpsertRequest) (*domain.ConfigSummary, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}

	catalog, err := s.repo.FindCatalog(ctx, s.db, provider)
	if err != nil {
		return nil, err
	}
	if catalog == nil {
		return nil, domain.ErrInvalidProvider
	}

	cfgMap := normalizeConfig(req.Config)
	if len(cfgMap) == 0 {
		return nil, domain.ErrInvalidConfig
	}

	encrypted, err := s.encryptConfig(cfgMap)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindConfig(ctx, s.db, orgID, provider)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cfg := domain.StoreProviderConfig{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Provider:  provider,
		Config:    encrypted,
		IsActive:  true,
		IsPrimary: req.IsPrimary,
		Priority:  req.Priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cfg.Priority == 0 {
		cfg.Priority = 100
	}
	if existing != nil {
		cfg.ID = existing.ID
		cfg.IsActive = existing.IsActive
		cfg.CreatedAt = existing.CreatedAt
		if !req.IsPrimary {
			cfg.IsPrimary = existing.IsPrimary
		}
	}

	if err := s.repo.UpsertConfig(ctx, s.db, &cfg); err != nil {
		return nil, err
	}
	if cfg.IsPrimary {
		if _, err := s.repo.SetPrimary(ctx, s.db, orgID, provider, now); err != nil {
			return nil, err
		}
	}

	s.log.Info("provider config upserted",
		zap.String("org_id", orgID.String()),
		zap.String("provider", provider),
	)

	return &domain.ConfigSummary{
		Provider:   provider,
		IsActive:   cfg.IsActive,
		IsPrimary:  cfg.IsPrimary,
		Configured: true,
	}, nil
}

func (s *Service) SetActive(ctx context.Context, orgID snowflake.ID, provider string, isActive bool) (*domain.ConfigSummary, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}

	updated, err := s.repo.UpdateStatus(ctx, s.db, orgID, provider, isActive, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrNotFound
	}

	return &domain.ConfigSummary{
		Provider:   provider,
		IsActive:   isActive,
		Configured: true,
	}, nil
}

func (s *Service) SetPrimary(ctx context.Context, orgID snowflake.ID, provider string) (*domain.ConfigSummary, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}

	updated, err := s.repo.SetPrimary(ctx, s.db, orgID, provider, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrNotFound
	}

	return &domain.ConfigSummary{
		Provider:   provider,
		IsActive:   true,
		IsPrimary:  true,
		Configured: true,
	}, nil
}

// Retrieve implements domain.CredentialResolver. It returns nil when the
// store has no configuration for the provider. Decrypted values are handed
// to the caller and never logged.
func (s *Service) Retrieve(ctx context.Context, orgID snowflake.ID, provider string) (map[string]string, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}

	cfg, err := s.repo.FindConfig(ctx, s.db, orgID, provider)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}

	decrypted, err := s.decryptConfig(cfg.Config)
	if err != nil {
		return nil, err
	}

	creds := make(map[string]string, len(decrypted))
	for key, value := range decrypted {
		switch cast := value.(type) {
		case string:
			creds[key] = cast
		default:
			creds[key] = fmt.Sprintf("%v", cast)
		}
	}
	return creds, nil
}

func (s *Service) encryptConfig(cfgMap map[string]any) (datatypes.JSON, error) {
	if len(s.encKey) == 0 {
		return nil, domain.ErrEncryptionKeyMissing
	}

	payload, err := json.Marshal(cfgMap)
	if err != nil {
		return nil, domain.ErrInvalidConfig
	}

	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, payload, nil)
	encoded := encryptedPayload{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	}
	out, err := json.Marshal(encoded)
	if err != nil {
		return nil, err
	}

	return datatypes.JSON(out), nil
}

func (s *Service) decryptConfig(sealed datatypes.JSON) (map[string]any, error) {
	if len(s.encKey) == 0 {
		return nil, domain.ErrEncryptionKeyMissing
	}

	var encoded encryptedPayload
	if err := json.Unmarshal(sealed, &encoded); err != nil {
		return nil, domain.ErrCorruptCredentials
	}

	nonce, err := base64.RawStdEncoding.DecodeString(encoded.Nonce)
	if err != nil {
		return nil, domain.ErrCorruptCredentials
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(encoded.Ciphertext)
	if err != nil {
		return nil, domain.ErrCorruptCredentials
	}

	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, domain.ErrCorruptCredentials
	}

	payload, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, domain.ErrCorruptCredentials
	}

	var cfgMap map[string]any
	if err := json.Unmarshal(payload, &cfgMap); err != nil {
		return nil, domain.ErrCorruptCredentials
	}
	return cfgMap, nil
}

func normalizeConfig(cfgMap map[string]any) map[string]any {
	if len(cfgMap) == 0 {
		return nil
	}

	normalized := make(map[string]any, len(cfgMap))
	for key, value := range cfgMap {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || value == nil {
			continue
		}

		switch cast := value.(type) {
		case string:
			trimmedValue := strings.TrimSpace(cast)
			if trimmedValue == "" {
				continue
			}
			normalized[trimmedKey] = trimmedValue
		default:
			normalized[trimmedKey] = cast
		}
	}

	if len(normalized) == 0 {
		return nil
	}
	return normalized
}
