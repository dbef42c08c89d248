package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DeviceServiceSuite struct {
	suite.Suite
	svc *Service
}

func (s *DeviceServiceSuite) SetupTest() {
	s.svc = NewService(true)
}

func TestDeviceServiceSuite(t *testing.T) {
	suite.Run(t, new(DeviceServiceSuite))
}

func (s *DeviceServiceSuite) TestUserAgentParsing() {
	s.Run("empty user agent returns unknown device", func() {
		s.Equal("Unknown Device", ParseUserAgent(""))
	})

	s.Run("chrome on desktop includes browser and OS", func() {
		ua := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
		result := ParseUserAgent(ua)
		s.Contains(result, "Chrome")
		s.Contains(result, "on")
	})

	s.Run("safari on iphone includes platform", func() {
		ua := "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
		result := ParseUserAgent(ua)
		s.Contains(result, "on")
	})

	s.Run("result has no leading or trailing whitespace", func() {
		ua := "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
		result := ParseUserAgent(ua)
		s.Equal(result, strings.TrimSpace(result))
	})
}

func (s *DeviceServiceSuite) TestFingerprintStability() {
	s.Run("disabled service returns empty fingerprint", func() {
		disabled := NewService(false)
		s.Empty(disabled.ComputeFingerprint("Mozilla/5.0 (Windows NT 10.0) Chrome/120.0.0.0"))
	})

	s.Run("same user agent yields deterministic fingerprint", func() {
		ua := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
		s.Equal(s.svc.ComputeFingerprint(ua), s.svc.ComputeFingerprint(ua))
	})

	s.Run("minor version bump keeps the fingerprint", func() {
		before := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
		after := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.1.5 Safari/537.36"
		s.Equal(s.svc.ComputeFingerprint(before), s.svc.ComputeFingerprint(after))
	})

	s.Run("different browser changes the fingerprint", func() {
		chrome := "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
		firefox := "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
		s.NotEqual(s.svc.ComputeFingerprint(chrome), s.svc.ComputeFingerprint(firefox))
	})

	s.Run("empty user agent yields empty fingerprint", func() {
		s.Empty(s.svc.ComputeFingerprint(""))
	})
}
