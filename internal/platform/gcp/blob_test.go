package gcp

import "testing"

func TestBlobConfigFromEnv(t *testing.T) {
	cases := []struct {
		name     string
		mode     string
		emulator string
		bucket   string
		wantMode StorageMode
		wantErr  bool
	}{
		{name: "default gcs", bucket: "b", wantMode: StorageModeGCS},
		{name: "emulator host implies emulator", emulator: "http://fake-gcs:4443", bucket: "b", wantMode: StorageModeGCSEmulator},
		{name: "explicit gcs ignores emulator host", mode: "gcs", emulator: "http://fake-gcs:4443", bucket: "b", wantMode: StorageModeGCS},
		{name: "invalid mode", mode: "local", bucket: "b", wantErr: true},
		{name: "missing bucket", wantErr: true},
		{name: "emulator without host", mode: "gcs_emulator", bucket: "b", wantErr: true},
		{name: "emulator host not absolute", mode: "gcs_emulator", emulator: "fake-gcs:4443", bucket: "b", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("BLOB_STORAGE_MODE", tc.mode)
			t.Setenv("STORAGE_EMULATOR_HOST", tc.emulator)
			t.Setenv("BLOB_GCS_BUCKET_NAME", tc.bucket)
			t.Setenv("BLOB_CDN_DOMAIN", "")
			t.Setenv("BLOB_PUBLIC_BASE_URL", "")
			cfg, err := BlobConfigFromEnv()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("BlobConfigFromEnv: %v", err)
			}
			if cfg.Mode != tc.wantMode {
				t.Fatalf("mode: want=%q got=%q", tc.wantMode, cfg.Mode)
			}
		})
	}
}

func TestDirectURL(t *testing.T) {
	key := "/organizations/o1/certificates/abc.png"
	cases := []struct {
		cfg  BlobConfig
		want string
	}{
		{BlobConfig{Mode: StorageModeGCS, Bucket: "lms", CDNDomain: "cdn.example.com"}, "https://cdn.example.com/organizations/o1/certificates/abc.png"},
		{BlobConfig{Mode: StorageModeGCS, Bucket: "lms", PublicBaseURL: "http://localhost:4443"}, "http://localhost:4443/lms/organizations/o1/certificates/abc.png"},
		{BlobConfig{Mode: StorageModeGCSEmulator, Bucket: "lms", EmulatorHost: "http://fake-gcs:4443"}, "http://fake-gcs:4443/storage/v1/b/lms/o/organizations%2Fo1%2Fcertificates%2Fabc.png?alt=media"},
		{BlobConfig{Mode: StorageModeGCS, Bucket: "lms"}, "https://storage.googleapis.com/lms/organizations/o1/certificates/abc.png"},
	}
	for _, tc := range cases {
		if got := directURL(tc.cfg, key); got != tc.want {
			t.Fatalf("directURL: want=%q got=%q", tc.want, got)
		}
	}
}

func TestContentTypeForPath(t *testing.T) {
	if got := contentTypeForPath("a/b.PNG"); got != "image/png" {
		t.Fatalf("png: got %q", got)
	}
	if got := contentTypeForPath("fonts/x.ttf"); got != "font/ttf" {
		t.Fatalf("ttf: got %q", got)
	}
	if got := contentTypeForPath("blob"); got != "application/octet-stream" {
		t.Fatalf("default: got %q", got)
	}
}
