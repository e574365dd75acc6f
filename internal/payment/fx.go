package payment

import (
	paymentdomain "github.com/smallbiznis/payflow/internal/payment/domain"
	"github.com/smallbiznis/payflow/internal/payment/repository"
	"github.com/smallbiznis/payflow/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(
		repository.ProvideTransactionRepository,
		repository.ProvideRefundRepository,
		repository.ProvideWebhookEventRepository,
		fx.Annotate(service.NewService, fx.As(new(paymentdomain.Service))),
	),
)
