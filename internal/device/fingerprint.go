package device

import (
	"encoding/base64"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

const fingerprintLength = 32

// Signals are the environment properties a fingerprint is derived from.
type Signals struct {
	UserAgent    string
	Platform     string
	Language     string
	Timezone     string
	ScreenWidth  int
	ScreenHeight int
}

func (s Signals) screen() string {
	if s.ScreenWidth <= 0 || s.ScreenHeight <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", s.ScreenWidth, s.ScreenHeight)
}

// Fingerprint is stable for identical signals and is not a security
// boundary: identical installs share a value.
func Fingerprint(s Signals) string {
	raw := s.UserAgent + s.Platform + s.Language + s.Timezone + s.screen()
	encoded := base64.StdEncoding.EncodeToString([]byte(raw))
	if len(encoded) > fingerprintLength {
		encoded = encoded[:fingerprintLength]
	}
	return encoded
}

// Detect fills signals left empty in overrides from the host.
func Detect(overrides Signals) Signals {
	s := overrides
	if s.Platform == "" {
		s.Platform = runtime.GOOS + "/" + runtime.GOARCH
	}
	if s.Language == "" {
		s.Language = hostLanguage()
	}
	if s.Timezone == "" {
		s.Timezone = time.Local.String()
	}
	return s
}

func hostLanguage() string {
	for _, key := range []string{"LC_ALL", "LANG"} {
		v := os.Getenv(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if idx := strings.IndexAny(v, ".@"); idx > 0 {
			v = v[:idx]
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return ""
}
