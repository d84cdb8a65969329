package gcp

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yungbote/headless-lms/internal/platform/envutil"
)

type StorageMode string

const (
	StorageModeGCS         StorageMode = "gcs"
	StorageModeGCSEmulator StorageMode = "gcs_emulator"
)

// BlobConfig describes the single bucket certificates and other uploads go to.
type BlobConfig struct {
	Mode         StorageMode
	EmulatorHost string
	Bucket       string
	// CDNDomain, when set, is used for direct download URLs.
	CDNDomain string
	// PublicBaseURL overrides the storage.googleapis.com host for direct URLs.
	PublicBaseURL string
}

func (c BlobConfig) IsEmulator() bool { return c.Mode == StorageModeGCSEmulator }

type ConfigErrorCode string

const (
	ConfigErrorInvalidMode         ConfigErrorCode = "invalid_mode"
	ConfigErrorMissingBucket       ConfigErrorCode = "missing_bucket"
	ConfigErrorMissingEmulatorHost ConfigErrorCode = "missing_emulator_host"
	ConfigErrorInvalidURL          ConfigErrorCode = "invalid_url"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
}

func (e *ConfigError) Error() string {
	switch e.Code {
	case ConfigErrorInvalidMode:
		return fmt.Sprintf("invalid BLOB_STORAGE_MODE=%q (allowed: %q, %q)", e.Value, StorageModeGCS, StorageModeGCSEmulator)
	case ConfigErrorMissingBucket:
		return "missing env var BLOB_GCS_BUCKET_NAME"
	case ConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("BLOB_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST", StorageModeGCSEmulator)
	case ConfigErrorInvalidURL:
		return fmt.Sprintf("invalid URL %q; expected absolute URL like http://fake-gcs:4443", e.Value)
	default:
		return "invalid blob storage config"
	}
}

// BlobConfigFromEnv reads BLOB_* variables. A set STORAGE_EMULATOR_HOST
// selects emulator mode when no mode is given.
func BlobConfigFromEnv() (BlobConfig, error) {
	cfg := BlobConfig{
		EmulatorHost:  strings.TrimRight(envutil.String("STORAGE_EMULATOR_HOST", ""), "/"),
		Bucket:        envutil.String("BLOB_GCS_BUCKET_NAME", ""),
		CDNDomain:     envutil.String("BLOB_CDN_DOMAIN", ""),
		PublicBaseURL: strings.TrimRight(envutil.String("BLOB_PUBLIC_BASE_URL", ""), "/"),
	}
	raw := envutil.String("BLOB_STORAGE_MODE", "")
	switch StorageMode(strings.ToLower(raw)) {
	case "":
		cfg.Mode = StorageModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode = StorageModeGCSEmulator
		}
	case StorageModeGCS:
		cfg.Mode = StorageModeGCS
	case StorageModeGCSEmulator:
		cfg.Mode = StorageModeGCSEmulator
	default:
		return cfg, &ConfigError{Code: ConfigErrorInvalidMode, Value: raw}
	}
	return cfg, cfg.Validate()
}

func (c BlobConfig) Validate() error {
	if c.Mode != StorageModeGCS && c.Mode != StorageModeGCSEmulator {
		return &ConfigError{Code: ConfigErrorInvalidMode, Value: string(c.Mode)}
	}
	if c.Bucket == "" {
		return &ConfigError{Code: ConfigErrorMissingBucket}
	}
	if c.IsEmulator() {
		if c.EmulatorHost == "" {
			return &ConfigError{Code: ConfigErrorMissingEmulatorHost}
		}
		if !absoluteURL(c.EmulatorHost) {
			return &ConfigError{Code: ConfigErrorInvalidURL, Value: c.EmulatorHost}
		}
	}
	if c.PublicBaseURL != "" && !absoluteURL(c.PublicBaseURL) {
		return &ConfigError{Code: ConfigErrorInvalidURL, Value: c.PublicBaseURL}
	}
	return nil
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
