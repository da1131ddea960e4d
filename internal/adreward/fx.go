package adreward

import (
	adrewarddomain "github.com/lumichat/lumichat/internal/adreward/domain"
	"github.com/lumichat/lumichat/internal/adreward/service"
	"go.uber.org/fx"
)

var Module = fx.Module("adreward.service",
	fx.Provide(
		service.New,
		func(s *service.Service) adrewarddomain.Service { return s },
	),
)
