package quota

import (
	entitlementdomain "github.com/lumichat/lumichat/internal/entitlement/domain"
	quotadomain "github.com/lumichat/lumichat/internal/quota/domain"
	"github.com/lumichat/lumichat/internal/quota/repository"
	"github.com/lumichat/lumichat/internal/quota/service"
	"go.uber.org/fx"
)

var Module = fx.Module("quota.service",
	fx.Provide(
		repository.Provide,
		service.New,
		func(s *service.Service) quotadomain.Service { return s },
		func(s *service.Service) entitlementdomain.CharacterUnlocker { return s },
	),
)
