package device

import (
	"regexp"

	"sessiontrack/internal/models"
)

const unknown = "Unknown"

// Descriptor is a best-effort label for the session record, derived from
// the user agent.
type Descriptor struct {
	Type      models.DeviceType
	Name      string
	Model     string
	Brand     string
	Browser   string
	OS        string
	Platform  string
	UserAgent string
}

type rule struct {
	pattern *regexp.Regexp
	label   string
}

// Order matters: Edge and Opera carry "Chrome" in their UA, Chrome carries
// "Safari", Android carries "Linux" and iPadOS carries "Mac OS X".
var (
	browserRules = []rule{
		{pattern: regexp.MustCompile(`(?i)Edg(e|A|iOS)?/`), label: "Edge"},
		{pattern: regexp.MustCompile(`(?i)OPR/|Opera`), label: "Opera"},
		{pattern: regexp.MustCompile(`(?i)SamsungBrowser`), label: "Samsung Internet"},
		{pattern: regexp.MustCompile(`(?i)Firefox|FxiOS`), label: "Firefox"},
		{pattern: regexp.MustCompile(`(?i)Chrome|CriOS`), label: "Chrome"},
		{pattern: regexp.MustCompile(`(?i)Safari`), label: "Safari"},
	}
	osRules = []rule{
		{pattern: regexp.MustCompile(`(?i)Windows`), label: "Windows"},
		{pattern: regexp.MustCompile(`(?i)Android`), label: "Android"},
		{pattern: regexp.MustCompile(`(?i)iPhone|iPad|iPod`), label: "iOS"},
		{pattern: regexp.MustCompile(`(?i)Macintosh|Mac OS X`), label: "macOS"},
		{pattern: regexp.MustCompile(`(?i)CrOS`), label: "ChromeOS"},
		{pattern: regexp.MustCompile(`(?i)Linux`), label: "Linux"},
	}

	tabletPattern  = regexp.MustCompile(`(?i)Tablet|iPad`)
	androidPattern = regexp.MustCompile(`(?i)Android`)
	mobilePattern  = regexp.MustCompile(`(?i)Mobile|iPhone|iPod`)
)

func Classify(userAgent, platform string) Descriptor {
	return Descriptor{
		Type:      classifyType(userAgent),
		Name:      "Web Browser",
		Model:     unknown,
		Brand:     unknown,
		Browser:   firstMatch(browserRules, userAgent),
		OS:        firstMatch(osRules, userAgent),
		Platform:  platform,
		UserAgent: userAgent,
	}
}

func classifyType(ua string) models.DeviceType {
	switch {
	case tabletPattern.MatchString(ua):
		return models.DeviceTypeTablet
	case androidPattern.MatchString(ua) && !mobilePattern.MatchString(ua):
		return models.DeviceTypeTablet
	case androidPattern.MatchString(ua), mobilePattern.MatchString(ua):
		return models.DeviceTypeMobile
	default:
		return models.DeviceTypeDesktop
	}
}

func firstMatch(rules []rule, ua string) string {
	for _, r := range rules {
		if r.pattern.MatchString(ua) {
			return r.label
		}
	}
	return unknown
}
