// Package geoip maps client IP addresses to ISO country codes.
package geoip

import (
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// CountryMapper returns an ISO 3166-1 alpha-2 code, or "" when unknown.
type CountryMapper interface {
	Country(ip net.IP) string
	Close() error
}

type reader struct {
	log *logger.Logger
	mu  sync.RWMutex
	db  *geoip2.Reader
}

// Open loads a GeoLite2/GeoIP2 country or city database. An empty path
// yields a mapper that never resolves a country.
func Open(log *logger.Logger, path string) (CountryMapper, error) {
	if path == "" {
		return Nop{}, nil
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %q: %w", path, err)
	}
	l := log.With("service", "GeoIP")
	l.Info("GeoIP database loaded", "path", path, "type", db.Metadata().DatabaseType)
	return &reader{log: l, db: db}, nil
}

func (r *reader) Country(ip net.IP) string {
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.db == nil {
		return ""
	}
	rec, err := r.db.Country(ip)
	if err != nil {
		r.log.Debug("geoip lookup failed", "error", err)
		return ""
	}
	return rec.Country.IsoCode
}

func (r *reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

type Nop struct{}

func (Nop) Country(net.IP) string { return "" }
func (Nop) Close() error          { return nil }
