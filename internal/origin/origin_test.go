package origin

import "testing"

func TestNormalize(t *testing.T) {
	t.Run("lowercases and strips default port", func(t *testing.T) {
		normalized, host, ok := Normalize("HTTPS://Example.COM:443")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "https://example.com" {
			t.Fatalf("normalized=%q, want %q", normalized, "https://example.com")
		}
		if host != "example.com" {
			t.Fatalf("host=%q, want %q", host, "example.com")
		}
	})

	t.Run("keeps non-default port and trailing slash", func(t *testing.T) {
		normalized, host, ok := Normalize("http://localhost:5173/")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "http://localhost:5173" {
			t.Fatalf("normalized=%q, want %q", normalized, "http://localhost:5173")
		}
		if host != "localhost:5173" {
			t.Fatalf("host=%q, want %q", host, "localhost:5173")
		}
	})

	t.Run("brackets ipv6 literals", func(t *testing.T) {
		normalized, _, ok := Normalize("http://[::1]:8080")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "http://[::1]:8080" {
			t.Fatalf("normalized=%q, want %q", normalized, "http://[::1]:8080")
		}
	})

	t.Run("accepts opaque null", func(t *testing.T) {
		normalized, host, ok := Normalize("null")
		if !ok || normalized != "null" || host != "" {
			t.Fatalf("got (%q, %q, %v)", normalized, host, ok)
		}
	})

	t.Run("rejects non-http schemes", func(t *testing.T) {
		if _, _, ok := Normalize("ftp://example.com"); ok {
			t.Fatalf("expected ok=false")
		}
	})

	t.Run("rejects path, query, credentials, fragment", func(t *testing.T) {
		cases := []string{
			"https://example.com/path",
			"https://example.com/?q=1",
			"https://user@example.com",
			"https://example.com/#frag",
			"https://example.com:0",
			"https://example.com:99999",
			"",
		}
		for _, c := range cases {
			if _, _, ok := Normalize(c); ok {
				t.Fatalf("expected ok=false for %q", c)
			}
		}
	})
}

func TestCheckerAllow(t *testing.T) {
	t.Run("missing origin header is always allowed", func(t *testing.T) {
		if !NewChecker(nil).Allow("", "relay.example.com") {
			t.Fatalf("expected empty Origin to pass")
		}
	})

	t.Run("default policy is same host", func(t *testing.T) {
		c := NewChecker(nil)
		if !c.Allow("https://app.example.com", "app.example.com") {
			t.Fatalf("expected same-host to be allowed")
		}
		// Default ports on either side compare equal.
		if !c.Allow("https://app.example.com:443", "app.example.com") {
			t.Fatalf("expected default port to be equivalent")
		}
		if c.Allow("https://evil.example.com", "app.example.com") {
			t.Fatalf("expected cross-host to be rejected")
		}
		if c.Allow("null", "app.example.com") {
			t.Fatalf("expected null origin to fail the same-host policy")
		}
	})

	t.Run("wildcard allows anything parseable", func(t *testing.T) {
		c := NewChecker([]string{"*"})
		if !c.Allow("https://anywhere.example.com", "relay.example.com") {
			t.Fatalf("expected * to allow any origin")
		}
		if c.Allow("not a url", "relay.example.com") {
			t.Fatalf("expected malformed origin to be rejected even with *")
		}
	})

	t.Run("explicit allow list", func(t *testing.T) {
		c := NewChecker([]string{"https://app.example.com", "null"})
		if !c.Allow("https://app.example.com", "relay.example.com") {
			t.Fatalf("expected listed origin to be allowed")
		}
		if !c.Allow("HTTPS://App.Example.Com", "relay.example.com") {
			t.Fatalf("expected listed origin to match after normalization")
		}
		if !c.Allow("null", "relay.example.com") {
			t.Fatalf("expected null to be allowed when listed")
		}
		if c.Allow("https://other.example.com", "relay.example.com") {
			t.Fatalf("expected unlisted origin to be rejected")
		}
	})
}
