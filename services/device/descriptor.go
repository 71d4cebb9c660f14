package device

import (
	"strings"

	"github.com/mileusna/useragent"
)

// Descriptor is what a client reports about itself at login or registration.
type Descriptor struct {
	DeviceID   string   `json:"device_id" validate:"required,max=255"`
	DeviceName string   `json:"device_name" validate:"max=255"`
	Platform   Platform `json:"platform" validate:"omitempty,oneof=ios android web other"`
	OSVersion  string   `json:"os_version" validate:"max=64"`
	AppVersion string   `json:"app_version" validate:"max=64"`
}

// Context is the network origin of a request.
type Context struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

func NormalizePlatform(p string) Platform {
	switch Platform(strings.ToLower(strings.TrimSpace(p))) {
	case PlatformIOS:
		return PlatformIOS
	case PlatformAndroid:
		return PlatformAndroid
	case PlatformWeb:
		return PlatformWeb
	case "":
		return ""
	default:
		return PlatformOther
	}
}

// Normalize fills platform, OS version and display name from the User-Agent
// when the client left them out.
func (d Descriptor) Normalize(userAgent string) Descriptor {
	d.Platform = NormalizePlatform(string(d.Platform))
	if d.Platform != "" && d.OSVersion != "" && d.DeviceName != "" {
		return d
	}

	ua := useragent.Parse(userAgent)

	if d.Platform == "" {
		d.Platform = platformFromUA(ua)
	}
	if d.OSVersion == "" {
		d.OSVersion = ua.OSVersion
	}
	if d.DeviceName == "" {
		d.DeviceName = DisplayName(ua)
	}

	return d
}

func platformFromUA(ua useragent.UserAgent) Platform {
	switch {
	case ua.IsIOS():
		return PlatformIOS
	case ua.IsAndroid():
		return PlatformAndroid
	case ua.Desktop && !ua.Bot:
		return PlatformWeb
	default:
		return PlatformOther
	}
}

// DisplayName renders a User-Agent as "Browser on OS".
func DisplayName(ua useragent.UserAgent) string {
	browser := ua.Name
	if browser == "" {
		browser = "Unknown Browser"
	}

	device := ua.OS
	if ua.Device != "" {
		device = ua.Device
	}
	if device == "" {
		switch {
		case ua.Mobile:
			device = "Mobile Device"
		case ua.Tablet:
			device = "Tablet"
		default:
			return browser
		}
	}

	return browser + " on " + device
}
