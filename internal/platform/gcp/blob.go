package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// ErrObjectNotFound is returned by Download and Delete for a missing path.
var ErrObjectNotFound = errors.New("blob: object not found")

// BlobStore is the file store used for certificate images and fonts.
type BlobStore interface {
	Upload(ctx context.Context, objectPath string, r io.Reader, contentType string) error
	Download(ctx context.Context, objectPath string) (io.ReadCloser, error)
	Delete(ctx context.Context, objectPath string) error
	List(ctx context.Context, prefix string) ([]string, error)
	// DirectURL is a URL clients can download the object from.
	DirectURL(objectPath string) string
}

type blobStore struct {
	log    *logger.Logger
	client *storage.Client
	cfg    BlobConfig
}

func NewBlobStoreFromEnv(log *logger.Logger) (BlobStore, error) {
	cfg, err := BlobConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("resolve blob storage config: %w", err)
	}
	return NewBlobStore(context.Background(), log, cfg)
}

func NewBlobStore(ctx context.Context, log *logger.Logger, cfg BlobConfig) (BlobStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate blob storage config: %w", err)
	}
	var opts []option.ClientOption
	if cfg.IsEmulator() {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
		opts = []option.ClientOption{option.WithoutAuthentication()}
	} else {
		opts = append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	serviceLog := log.With("service", "BlobStore")
	serviceLog.Info("Blob storage initialized", "mode", cfg.Mode, "bucket", cfg.Bucket, "cdn_domain", cfg.CDNDomain)
	return &blobStore{log: serviceLog, client: client, cfg: cfg}, nil
}

func cleanPath(p string) string {
	return strings.TrimLeft(path.Clean("/"+strings.TrimSpace(p)), "/")
}

func contentTypeForPath(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".svg":
		return "image/svg+xml"
	case ".ttf":
		return "font/ttf"
	case ".otf":
		return "font/otf"
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func (b *blobStore) Upload(ctx context.Context, objectPath string, r io.Reader, contentType string) error {
	objectPath = cleanPath(objectPath)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := b.client.Bucket(b.cfg.Bucket).Object(objectPath).NewWriter(ctx)
	if contentType == "" {
		contentType = contentTypeForPath(objectPath)
	}
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %q: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %q: %w", objectPath, err)
	}
	return nil
}

// readCloserWithCancel keeps the request context alive until the caller closes the reader.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (b *blobStore) Download(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	objectPath = cleanPath(objectPath)
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	if b.cfg.IsEmulator() {
		rc, err := b.emulatorDownload(ctx2, objectPath)
		if err != nil {
			cancel()
			return nil, err
		}
		return &readCloserWithCancel{ReadCloser: rc, cancel: cancel}, nil
	}
	r, err := b.client.Bucket(b.cfg.Bucket).Object(objectPath).NewReader(ctx2)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("open reader for %q: %w", objectPath, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

// The emulator's reader endpoint differs from the JSON API the client uses,
// so media is fetched over plain HTTP.
func (b *blobStore) emulatorDownload(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media",
		b.cfg.EmulatorHost, url.PathEscape(b.cfg.Bucket), url.PathEscape(objectPath))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("emulator download: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}

func (b *blobStore) Delete(ctx context.Context, objectPath string) error {
	objectPath = cleanPath(objectPath)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := b.client.Bucket(b.cfg.Bucket).Object(objectPath).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("delete %q: %w", objectPath, err)
	}
	return nil
}

func (b *blobStore) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := b.client.Bucket(b.cfg.Bucket).Objects(ctx, &storage.Query{Prefix: cleanPath(prefix)})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (b *blobStore) DirectURL(objectPath string) string {
	return directURL(b.cfg, objectPath)
}

func directURL(cfg BlobConfig, objectPath string) string {
	objectPath = cleanPath(objectPath)
	switch {
	case cfg.CDNDomain != "":
		return fmt.Sprintf("https://%s/%s", cfg.CDNDomain, objectPath)
	case cfg.PublicBaseURL != "":
		return fmt.Sprintf("%s/%s/%s", cfg.PublicBaseURL, cfg.Bucket, objectPath)
	case cfg.IsEmulator():
		return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media",
			cfg.EmulatorHost, url.PathEscape(cfg.Bucket), url.PathEscape(objectPath))
	default:
		return fmt.Sprintf("https://storage.googleapis.com/%s/%s", cfg.Bucket, objectPath)
	}
}
