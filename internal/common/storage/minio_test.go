package storage

import (
	"errors"
	"net/http"
	"testing"

	appErr "codejudge/pkg/errors"

	"github.com/minio/minio-go/v7"
)

func TestTranslateNotFound(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{name: "no-such-key", err: minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, notFound: true},
		{name: "no-such-bucket", err: minio.ErrorResponse{Code: "NoSuchBucket"}, notFound: true},
		{name: "access-denied", err: minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}},
		{name: "network", err: errors.New("connection refused")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := translate(tt.err, "packs", "p1.tar.zst")
			if appErr.Is(got, appErr.NotFound) != tt.notFound {
				t.Fatalf("expected notFound=%v, got %v", tt.notFound, got)
			}
			var resp minio.ErrorResponse
			if _, isMinio := tt.err.(minio.ErrorResponse); isMinio && !errors.As(got, &resp) {
				t.Fatalf("expected minio response to stay reachable, got %v", got)
			}
		})
	}
}

func TestNewMinIOStorageValidates(t *testing.T) {
	t.Parallel()
	if _, err := NewMinIOStorage(MinIOConfig{}); err == nil {
		t.Fatalf("expected missing endpoint error")
	}
	if _, err := NewMinIOStorage(MinIOConfig{Endpoint: "127.0.0.1:9000"}); err == nil {
		t.Fatalf("expected missing credentials error")
	}
	s, err := NewMinIOStorage(MinIOConfig{Endpoint: "127.0.0.1:9000", AccessKey: "a", SecretKey: "b", Bucket: "packs"})
	if err != nil {
		t.Fatalf("expected client, got %v", err)
	}
	if s.bucketOr("") != "packs" || s.bucketOr("other") != "other" {
		t.Fatalf("expected configured bucket fallback")
	}
}
