package visits

import (
	"strings"

	"github.com/mssola/useragent"
)

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
)

// Client is what the visit write path keeps from a User-Agent header.
// Unknown parts are nil.
type Client struct {
	Browser                *string
	BrowserVersion         *string
	OperatingSystem        *string
	OperatingSystemVersion *string
	DeviceType             *string
	IsBot                  bool
}

func ParseUserAgent(raw string) Client {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Client{}
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	os := ua.OSInfo()

	device := DeviceDesktop
	switch {
	case ua.Bot():
		device = DeviceBot
	case ua.Platform() == "iPad", strings.Contains(os.Name, "Android") && !ua.Mobile():
		device = DeviceTablet
	case ua.Mobile():
		device = DeviceMobile
	}
	return Client{
		Browser:                known(name),
		BrowserVersion:         known(version),
		OperatingSystem:        known(os.Name),
		OperatingSystemVersion: known(os.Version),
		DeviceType:             &device,
		IsBot:                  ua.Bot(),
	}
}

// known maps the parser's placeholders for missing values to nil.
func known(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "unknown") || strings.EqualFold(v, "other") {
		return nil
	}
	return &v
}
