package membership

import (
	"github.com/lumichat/lumichat/internal/membership/service"
	"go.uber.org/fx"
)

var Module = fx.Module("membership.service",
	fx.Provide(service.New),
)
