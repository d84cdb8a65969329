package geoip

import (
	"net"
	"testing"

	"github.com/yungbote/headless-lms/internal/platform/logger"
)

func TestOpenWithoutPathNeverResolves(t *testing.T) {
	m, err := Open(logger.Nop(), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := m.Country(net.ParseIP("8.8.8.8")); got != "" {
		t.Fatalf("expected empty country, got %q", got)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenMissingFileFails(t *testing.T) {
	if _, err := Open(logger.Nop(), "/nonexistent/GeoLite2-Country.mmdb"); err == nil {
		t.Fatalf("expected error for missing database")
	}
}
