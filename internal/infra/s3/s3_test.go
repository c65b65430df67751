package s3

import "testing"

func TestSplitEndpoint(t *testing.T) {
	cases := []struct {
		raw    string
		useSSL bool
		host   string
		secure bool
	}{
		{raw: "localhost:9000", useSSL: false, host: "localhost:9000", secure: false},
		{raw: "https://s3.example.com/", useSSL: false, host: "s3.example.com", secure: true},
		{raw: "http://minio:9000", useSSL: true, host: "minio:9000", secure: false},
	}
	for _, tc := range cases {
		host, secure := splitEndpoint(tc.raw, tc.useSSL)
		if host != tc.host || secure != tc.secure {
			t.Fatalf("%q: got (%q, %v) want (%q, %v)", tc.raw, host, secure, tc.host, tc.secure)
		}
	}
}

func TestNewClientRequiresEndpointAndCredentials(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
	if _, err := NewClient(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
}
