// Package device derives display names and stable fingerprints from client
// User-Agent strings. The fingerprint feeds the DeviceKnown trust factor.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mssola/useragent"
)

// Service computes device fingerprints. Disabled mode returns empty
// fingerprints, which scores as an unknown device.
type Service struct {
	enabled bool
}

func NewService(enabled bool) *Service {
	return &Service{enabled: enabled}
}

// ParseUserAgent returns a human-readable device name for audit entries and
// operator review, e.g. "Chrome on Mac OS X".
func ParseUserAgent(raw string) string {
	if raw == "" {
		return "Unknown Device"
	}

	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	os := ua.OS()

	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = ua.Platform()
	}
	if os == "" {
		os = "Unknown OS"
	}

	return strings.TrimSpace(fmt.Sprintf("%s on %s", browser, os))
}

// ComputeFingerprint hashes the stable parts of the User-Agent: browser name,
// major version, OS, and platform. Minor browser updates keep the fingerprint
// stable; switching browser or OS changes it.
func (s *Service) ComputeFingerprint(raw string) string {
	if !s.enabled || raw == "" {
		return ""
	}

	ua := useragent.New(raw)
	browser, version := ua.Browser()
	major := version
	if idx := strings.IndexByte(version, '.'); idx >= 0 {
		major = version[:idx]
	}

	material := strings.Join([]string{browser, major, ua.OS(), ua.Platform()}, "|")
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
