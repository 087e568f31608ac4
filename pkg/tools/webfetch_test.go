package tools

import (
	"strings"
	"testing"
	"time"
)

func TestWebFetchValidateURLRequiresAllowlist(t *testing.T) {
	tool := NewWebFetchTool(nil, nil, 0, 0, "")
	if _, err := tool.validateURL("https://example.com"); err == nil {
		t.Fatal("expected error when no allowed_domains configured")
	}
}

func TestWebFetchValidateURLChecksAllowlist(t *testing.T) {
	tool := NewWebFetchTool([]string{"example.com"}, nil, 0, 0, "")
	if _, err := tool.validateURL("https://example.com/path"); err != nil {
		t.Fatalf("expected allowed domain to pass, got %v", err)
	}
	if _, err := tool.validateURL("https://sub.example.com/path"); err != nil {
		t.Fatalf("expected subdomain to pass, got %v", err)
	}
	if _, err := tool.validateURL("https://other.com"); err == nil {
		t.Fatal("expected disallowed domain to fail")
	}
}

func TestWebFetchValidateURLChecksBlocklist(t *testing.T) {
	tool := NewWebFetchTool([]string{"example.com"}, []string{"blocked.example.com"}, 0, 0, "")
	if _, err := tool.validateURL("https://blocked.example.com"); err == nil {
		t.Fatal("expected blocked subdomain to fail")
	}
}

func TestWebFetchValidateURLRejectsBadScheme(t *testing.T) {
	tool := NewWebFetchTool([]string{"example.com"}, nil, 0, 0, "")
	if _, err := tool.validateURL("ftp://example.com"); err == nil {
		t.Fatal("expected non-http(s) scheme to fail")
	}
}

func TestWebFetchValidateURLRejectsPrivateHost(t *testing.T) {
	tool := NewWebFetchTool([]string{"localhost", "127.0.0.1"}, nil, 0, 0, "")
	if _, err := tool.validateURL("http://127.0.0.1/admin"); err == nil {
		t.Fatal("expected private host to be rejected even if allowlisted")
	}
}

func TestHTMLToTextStripsNoise(t *testing.T) {
	html := `<html><head><script>evil()</script></head><body><nav>menu</nav><p>Hello <b>world</b></p><footer>bye</footer></body></html>`
	text := htmlToText(html)
	if strings.Contains(text, "evil") {
		t.Errorf("expected script contents to be stripped, got %q", text)
	}
	if !strings.Contains(text, "Hello") || !strings.Contains(text, "world") {
		t.Errorf("expected body text preserved, got %q", text)
	}
	if strings.Contains(text, "menu") || strings.Contains(text, "bye") {
		t.Errorf("expected nav/footer stripped, got %q", text)
	}
}

func TestWebFetchTruncate(t *testing.T) {
	tool := NewWebFetchTool([]string{"example.com"}, nil, 10, time.Second, "")
	out := tool.truncate("0123456789ABCDEF")
	if len(out) <= 10 {
		t.Fatalf("expected truncation marker appended, got %q", out)
	}
	if out[:10] != "0123456789" {
		t.Errorf("expected original prefix kept, got %q", out)
	}
}

