package auth

import (
	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/services/device"
	"github.com/fintrac/authcore/services/jwt"
	"github.com/fintrac/authcore/services/logging"
	"github.com/fintrac/authcore/services/mail"
	"github.com/fintrac/authcore/services/otp"
	"github.com/fintrac/authcore/services/revocation"
	"github.com/fintrac/authcore/services/security"
	"github.com/fintrac/authcore/services/user"
	"github.com/fintrac/authcore/session"
	"go.uber.org/fx"
)

type FlowParams struct {
	fx.In

	Config     *config.Config
	Users      *user.Repository
	Passwords  *user.Passwords
	Codes      *otp.Service
	Devices    *device.Registry
	Sessions   *session.Manager
	Tokens     *jwt.Service
	Revocation *revocation.Service
	Events     *security.Recorder
	Notifier   Notifier `optional:"true"`
	Logger     *logging.Service
}

func ProvideFlow(p FlowParams) *Flow {
	return NewFlow(p.Config.Auth, Deps{
		Users:      p.Users,
		Passwords:  p.Passwords,
		Codes:      p.Codes,
		Devices:    p.Devices,
		Sessions:   p.Sessions,
		Tokens:     p.Tokens,
		Revocation: p.Revocation,
		Events:     p.Events,
		Notifier:   p.Notifier,
	}, p.Logger.Named("auth"))
}

func ProvideNotifier(d *mail.Dispatcher) Notifier {
	return d
}

var Module = fx.Options(
	fx.Provide(ProvideFlow),
)

// MailNotifier routes flow notifications through the mail dispatcher.
var MailNotifier = fx.Provide(ProvideNotifier)
