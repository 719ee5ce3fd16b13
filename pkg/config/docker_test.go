package config

import "testing"

func TestResolveHost_NotInDocker(t *testing.T) {
	for _, host := range []string{"localhost", "127.0.0.1", "db.internal"} {
		if got := resolveHost(host, false); got != host {
			t.Errorf("resolveHost(%q, false) = %q, want unchanged", host, got)
		}
	}
}

func TestResolveHost_InDocker(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"localhost", "host.docker.internal"},
		{"127.0.0.1", "host.docker.internal"},
		{"db.internal", "db.internal"},
	}
	for _, tt := range tests {
		if got := resolveHost(tt.host, true); got != tt.want {
			t.Errorf("resolveHost(%q, true) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestResolveURL_InDocker(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"http://localhost:3000/about", "http://host.docker.internal:3000/about"},
		{"http://127.0.0.1/", "http://host.docker.internal/"},
		{"https://example.com/", "https://example.com/"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		if got := resolveURL(tt.raw, true); got != tt.want {
			t.Errorf("resolveURL(%q, true) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestResolveURL_NotInDocker(t *testing.T) {
	raw := "http://localhost:3000/"
	if got := resolveURL(raw, false); got != raw {
		t.Errorf("resolveURL(%q, false) = %q, want unchanged", raw, got)
	}
}
