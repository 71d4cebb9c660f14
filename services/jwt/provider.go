package jwt

import (
	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/services/logging"
	"go.uber.org/fx"
)

func NewJWTService(cfg *config.Config, logger *logging.Service) (*Service, error) {
	return NewService(cfg, logger.Named("jwt"))
}

type OptionalRevocationChecker struct {
	fx.In
	Checker RevocationChecker `optional:"true"`
}

func WireRevocationChecker(jwtSvc *Service, opt OptionalRevocationChecker) {
	if jwtSvc != nil && opt.Checker != nil {
		jwtSvc.SetRevocationChecker(opt.Checker)
	}
}

var Options = fx.Options(
	fx.Provide(NewJWTService),
	fx.Invoke(WireRevocationChecker),
)
