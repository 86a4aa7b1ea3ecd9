package storage

import (
	"testing"

	"sessiontrack/internal/config"
)

func TestResolveEndpoint(t *testing.T) {
	cases := []struct {
		in      string
		ssl     bool
		host    string
		wantSSL bool
	}{
		{in: "minio:9000", ssl: false, host: "minio:9000", wantSSL: false},
		{in: "minio:9000", ssl: true, host: "minio:9000", wantSSL: true},
		{in: "https://s3.example.com", ssl: false, host: "s3.example.com", wantSSL: true},
		{in: "http://localhost:9000", ssl: true, host: "localhost:9000", wantSSL: false},
	}
	for _, tc := range cases {
		host, ssl, err := resolveEndpoint(tc.in, tc.ssl)
		if err != nil {
			t.Fatalf("resolve %q: %v", tc.in, err)
		}
		if host != tc.host || ssl != tc.wantSSL {
			t.Fatalf("resolve %q = %s/%v want %s/%v", tc.in, host, ssl, tc.host, tc.wantSSL)
		}
	}
}

func TestNewObjectStore(t *testing.T) {
	s, err := NewObjectStore(config.StorageConfig{Endpoint: "http://localhost:9000", Bucket: "b", Region: "us-east-1"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.cfg.Bucket != "b" {
		t.Fatalf("unexpected config %+v", s.cfg)
	}
}
