package entitlement

import (
	entitlementdomain "github.com/lumichat/lumichat/internal/entitlement/domain"
	"github.com/lumichat/lumichat/internal/entitlement/repository"
	"github.com/lumichat/lumichat/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(
		repository.Provide,
		service.New,
		func(s *service.Service) entitlementdomain.Service { return s },
	),
)
