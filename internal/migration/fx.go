package migration

import (
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/outbox"
	paymentdomain "github.com/smallbiznis/payflow/internal/payment/domain"
	providerconfigdomain "github.com/smallbiznis/payflow/internal/providerconfig/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres deployments (sqlite, mysql) build the schema from the
		// models directly.
		if err := conn.AutoMigrate(
			&paymentdomain.PaymentTransaction{},
			&paymentdomain.PaymentRefund{},
			&paymentdomain.WebhookEventRecord{},
			&outbox.PaymentEvent{},
			&providerconfigdomain.CatalogProvider{},
			&providerconfigdomain.StoreProviderConfig{},
			&providerconfigdomain.ProviderHealth{},
		); err != nil {
			return err
		}
		return seedCatalog(conn)
	}),
)

func seedCatalog(conn *gorm.DB) error {
	describe := func(s string) *string { return &s }
	rows := []providerconfigdomain.CatalogProvider{
		{Provider: "sandbox", DisplayName: "Sandbox", Description: describe("Deterministic in-process gateway for development and testing"), SupportsWebhook: true, SupportsRefund: true},
		{Provider: "stripe", DisplayName: "Stripe", Description: describe("Stripe card payments"), SupportsWebhook: true, SupportsRefund: true},
		{Provider: "adyen", DisplayName: "Adyen", Description: describe("Adyen checkout payments"), SupportsWebhook: true, SupportsRefund: true},
	}
	return conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}
