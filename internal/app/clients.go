package app

import (
	"github.com/yungbote/headless-lms/internal/platform/gcp"
	"github.com/yungbote/headless-lms/internal/platform/geoip"
	"github.com/yungbote/headless-lms/internal/platform/logger"
	"github.com/yungbote/headless-lms/internal/platform/redis"
	"github.com/yungbote/headless-lms/internal/platform/sendgrid"
)

// Clients are the external systems the services talk to. Optional clients
// are nil (or a Nop) when not configured.
type Clients struct {
	Cache  redis.Cache
	Blobs  gcp.BlobStore
	Mailer sendgrid.Client
	GeoIP  geoip.CountryMapper
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	if cfg.Redis.Addr == "" {
		log.Warn("REDIS_ADDR not set; caching disabled")
		out.Cache = redis.Nop{}
	} else {
		c, err := redis.New(log, cfg.Redis)
		if err != nil {
			return Clients{}, err
		}
		out.Cache = c
	}

	if cfg.BlobEnabled {
		b, err := gcp.NewBlobStoreFromEnv(log)
		if err != nil {
			out.Close()
			return Clients{}, err
		}
		out.Blobs = b
	} else {
		log.Warn("BLOB_ENABLED is false; certificate rendering disabled")
	}

	if cfg.EmailEnabled {
		m, err := sendgrid.New(log, cfg.SendGrid)
		if err != nil {
			out.Close()
			return Clients{}, err
		}
		out.Mailer = m
	} else {
		log.Warn("EMAIL_ENABLED is false; emails stay queued")
	}

	g, err := geoip.Open(log, cfg.GeoIPPath)
	if err != nil {
		out.Close()
		return Clients{}, err
	}
	out.GeoIP = g
	return out, nil
}

func (c Clients) Close() {
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
	if c.GeoIP != nil {
		_ = c.GeoIP.Close()
	}
}
