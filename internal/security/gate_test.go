package security

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheckRateLimitDeniesAfterBudget(t *testing.T) {
	g := NewGate(Options{RatePoints: 5, RateWindow: time.Second})

	for i := 0; i < 5; i++ {
		if d := g.CheckRateLimit("1.2.3.4", "upload"); !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	d := g.CheckRateLimit("1.2.3.4", "upload")
	if d.Allowed {
		t.Fatal("request over budget should be denied")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("denial must carry a positive retry-after, got %v", d.RetryAfter)
	}
}

func TestCheckRateLimitIsolatesKeys(t *testing.T) {
	g := NewGate(Options{RatePoints: 1, RateWindow: time.Minute})

	if d := g.CheckRateLimit("1.2.3.4", "upload"); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if d := g.CheckRateLimit("1.2.3.4", "upload"); d.Allowed {
		t.Fatal("same key should be exhausted")
	}
	if d := g.CheckRateLimit("1.2.3.4", "stats"); !d.Allowed {
		t.Error("different endpoint should have its own bucket")
	}
	if d := g.CheckRateLimit("5.6.7.8", "upload"); !d.Allowed {
		t.Error("different IP should have its own bucket")
	}
}

func TestBlocklist(t *testing.T) {
	g := NewGate(Options{})

	if g.IsBlocked("10.0.0.1") {
		t.Fatal("fresh IP should not be blocked")
	}

	g.Block("10.0.0.1", "test")
	if !g.IsBlocked("10.0.0.1") {
		t.Fatal("blocked IP should report blocked")
	}

	g.Unblock("10.0.0.1")
	if g.IsBlocked("10.0.0.1") {
		t.Error("unblocked IP should not report blocked")
	}
}

func TestStaticBlacklist(t *testing.T) {
	g := NewGate(Options{StaticBlacklist: []string{"192.168.1.50"}})

	if !g.IsBlocked("192.168.1.50") {
		t.Error("blacklisted IP should report blocked")
	}
	g.Unblock("192.168.1.50")
	if !g.IsBlocked("192.168.1.50") {
		t.Error("static blacklist entries cannot be unblocked")
	}
}

func TestDetectAttackPathTraversalBlocks(t *testing.T) {
	g := NewGate(Options{})

	r := httptest.NewRequest("GET", "/files/../../etc/passwd", nil)
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Chrome/120.0")
	r.RemoteAddr = "10.9.8.7:4444"

	report := g.DetectAttack(r)
	if !report.IsAttack {
		t.Fatal("path traversal should be flagged")
	}
	if !contains(report.Indicators, IndicatorPathTraversal) {
		t.Errorf("indicators = %v, want %s", report.Indicators, IndicatorPathTraversal)
	}
	if !g.IsBlocked("10.9.8.7") {
		t.Error("path traversal should auto-block the IP")
	}
}

func TestDetectAttackCLITool(t *testing.T) {
	g := NewGate(Options{})

	r := httptest.NewRequest("GET", "/api/stats", nil)
	r.Header.Set("User-Agent", "curl/8.5.0")
	r.RemoteAddr = "10.1.1.1:1234"

	report := g.DetectAttack(r)
	if !report.IsAttack {
		t.Fatal("curl user agent should be flagged")
	}
	if !contains(report.Indicators, IndicatorCLITool) {
		t.Errorf("indicators = %v, want %s", report.Indicators, IndicatorCLITool)
	}
	if g.IsBlocked("10.1.1.1") {
		t.Error("CLI tool alone should not auto-block")
	}
}

func TestDetectAttackCleanBrowserRequest(t *testing.T) {
	g := NewGate(Options{})

	r := httptest.NewRequest("POST", "/api/upload", nil)
	r.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0) Chrome/121.0 Safari/537.36")
	r.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	r.RemoteAddr = "10.2.2.2:9999"

	if report := g.DetectAttack(r); report.IsAttack {
		t.Errorf("clean request flagged: %v", report.Indicators)
	}
}

func TestValidateInput(t *testing.T) {
	g := NewGate(Options{})

	cases := []struct {
		kind InputKind
		in   string
		want bool
	}{
		{InputID, "abc123def456", true},
		{InputID, "short", false},
		{InputID, "has-dash-chars", false},
		{InputFilename, "report_2024.pdf", true},
		{InputFilename, "../../etc/passwd", false},
		{InputURL, "https://example.com/file.png", true},
		{InputURL, "ftp://example.com/file", false},
		{InputURL, "not a url", false},
		{InputText, "plain description", true},
		{InputText, "<script>alert(1)</script>", false},
	}
	for _, tc := range cases {
		if got := g.ValidateInput(tc.kind, tc.in); got != tc.want {
			t.Errorf("ValidateInput(%s, %q) = %v, want %v", tc.kind, tc.in, got, tc.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if ip := ClientIP(r); ip != "10.0.0.1" {
		t.Errorf("ClientIP = %q, want 10.0.0.1", ip)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")
	if ip := ClientIP(r); ip != "203.0.113.7" {
		t.Errorf("ClientIP with XFF = %q, want 203.0.113.7", ip)
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
