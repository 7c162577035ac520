package billing

import (
	"reseller-billing/services/instance"
	"reseller-billing/services/wallet"

	"go.uber.org/fx"
)

var Module = fx.Module("billing.executor",
	fx.Provide(
		func(s *wallet.Service) Ledger { return s },
		func(s *instance.Store) InstanceSource { return s },
		NewMetrics,
		NewExecutor,
	),
)
