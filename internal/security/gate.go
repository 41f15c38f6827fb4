package security

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"kabox/internal/logging"
)

// Attack indicator names, reported in security logs and Telegram alerts.
const (
	IndicatorBlockedIP       = "BLOCKED_IP"
	IndicatorCLITool         = "CLI_TOOL"
	IndicatorUnknownBrowser  = "UNKNOWN_BROWSER"
	IndicatorSuspiciousRefer = "SUSPICIOUS_REFERER"
	IndicatorPathTraversal   = "PATH_TRAVERSAL"
	IndicatorBadContentType  = "UNSUPPORTED_CONTENT_TYPE"
)

// InputKind selects the validation rules applied by ValidateInput.
type InputKind string

const (
	InputID       InputKind = "id"
	InputFilename InputKind = "filename"
	InputURL      InputKind = "url"
	InputText     InputKind = "text"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// AttackReport describes the indicators found on a request.
type AttackReport struct {
	IsAttack   bool
	Indicators []string
	Severity   string
}

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.\./`),
	regexp.MustCompile(`/etc/passwd`),
	regexp.MustCompile(`/bin/sh`),
	regexp.MustCompile(`(?i)union.*select`),
	regexp.MustCompile(`(?i)insert.*into`),
	regexp.MustCompile(`(?i)drop.*table`),
	regexp.MustCompile(`(?i)script.*>`),
	regexp.MustCompile(`(?i)onload=`),
	regexp.MustCompile(`(?i)onerror=`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)data:`),
	regexp.MustCompile(`(?i)vbscript:`),
}

var (
	idPattern       = regexp.MustCompile(`^[a-zA-Z0-9]{8,32}$`)
	filenamePattern = regexp.MustCompile(`^[a-zA-Z0-9._\-\s]+$`)
)

// Browser user agents are identified by a plain prefix/substring check;
// anything else counts as an unknown browser.
var knownBrowserMarkers = []string{
	"Mozilla/", "Chrome/", "Safari/", "Firefox/", "Edg/", "Opera/", "OPR/",
}

// Gate enforces rate limits, the IP blocklist and request heuristics.
// The in-process LRU is authoritative; Redis mirrors blocks across
// processes when configured.
type Gate struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	points int
	window time.Duration

	blocked   *expirable.LRU[string, string]
	blockTTL  time.Duration
	blacklist map[string]struct{}
	rdb       *redis.Client
}

// Options configures a Gate. Zero values fall back to the documented
// defaults (10 points per second, one hour blocks).
type Options struct {
	RatePoints      int
	RateWindow      time.Duration
	BlockDuration   time.Duration
	StaticBlacklist []string
	Redis           *redis.Client
}

func NewGate(opts Options) *Gate {
	if opts.RatePoints <= 0 {
		opts.RatePoints = 10
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Second
	}
	if opts.BlockDuration <= 0 {
		opts.BlockDuration = time.Hour
	}

	g := &Gate{
		limiters:  make(map[string]*rate.Limiter),
		points:    opts.RatePoints,
		window:    opts.RateWindow,
		blocked:   expirable.NewLRU[string, string](4096, nil, opts.BlockDuration),
		blockTTL:  opts.BlockDuration,
		blacklist: make(map[string]struct{}),
		rdb:       opts.Redis,
	}
	for _, ip := range opts.StaticBlacklist {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			g.blacklist[ip] = struct{}{}
		}
	}

	g.loadBlockedIPs()

	return g
}

// loadBlockedIPs seeds the in-process blocklist from Redis so blocks
// survive restarts.
func (g *Gate) loadBlockedIPs() {
	if g.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	keys, err := g.rdb.Keys(ctx, "blocked:*").Result()
	if err != nil {
		logging.Security.Printf("failed to load blocked IPs from redis: %v", err)
		return
	}
	for _, key := range keys {
		ip := strings.TrimPrefix(key, "blocked:")
		reason, _ := g.rdb.Get(ctx, key).Result()
		g.blocked.Add(ip, reason)
	}
	if len(keys) > 0 {
		logging.Security.Printf("loaded %d blocked IPs from redis", len(keys))
	}
}

func (g *Gate) limiterFor(key string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(g.points)/g.window.Seconds()), g.points)
		g.limiters[key] = lim
	}
	return lim
}

// CheckRateLimit consumes one point from the (ip, endpoint) bucket. A
// denial always carries a positive retry-after.
func (g *Gate) CheckRateLimit(ip, endpoint string) Decision {
	lim := g.limiterFor(ip + ":" + endpoint)

	res := lim.Reserve()
	if !res.OK() {
		return Decision{Allowed: false, RetryAfter: g.window}
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		if delay < time.Second {
			delay = time.Second
		}
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return Decision{Allowed: true}
}

// Block adds an IP to the blocklist for the configured duration and
// mirrors it to Redis.
func (g *Gate) Block(ip, reason string) {
	g.blocked.Add(ip, reason)
	logging.Security.Printf("IP blocked: %s (%s)", ip, reason)

	if g.rdb == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := g.rdb.SetEx(ctx, "blocked:"+ip, reason, g.blockTTL).Err(); err != nil {
			logging.Security.Printf("failed to mirror block for %s: %v", ip, err)
		}
	}()
}

// Unblock removes an IP from the blocklist and the Redis mirror.
func (g *Gate) Unblock(ip string) {
	g.blocked.Remove(ip)
	if g.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := g.rdb.Del(ctx, "blocked:"+ip).Err(); err != nil {
		logging.Security.Printf("failed to remove redis block for %s: %v", ip, err)
	}
}

// IsBlocked reports whether an IP is on the dynamic blocklist or the
// static blacklist from configuration.
func (g *Gate) IsBlocked(ip string) bool {
	if _, ok := g.blacklist[ip]; ok {
		return true
	}
	_, ok := g.blocked.Get(ip)
	return ok
}

// DetectAttack inspects a request for attack indicators. Blocked-IP and
// path-traversal hits auto-block the source address.
func (g *Gate) DetectAttack(r *http.Request) AttackReport {
	ip := ClientIP(r)
	userAgent := r.Header.Get("User-Agent")

	var indicators []string

	if g.IsBlocked(ip) {
		indicators = append(indicators, IndicatorBlockedIP)
	}

	if strings.Contains(userAgent, "curl") || strings.Contains(userAgent, "wget") {
		indicators = append(indicators, IndicatorCLITool)
	}

	if !isKnownBrowser(userAgent) {
		indicators = append(indicators, IndicatorUnknownBrowser)
	}

	if referer := r.Header.Get("Referer"); referer != "" && !g.ValidateInput(InputURL, referer) {
		indicators = append(indicators, IndicatorSuspiciousRefer)
	}

	rawURL := r.URL.String()
	if strings.Contains(rawURL, "..") || strings.Contains(strings.TrimPrefix(rawURL, "/"), "//") {
		indicators = append(indicators, IndicatorPathTraversal)
	}

	if ct := r.Header.Get("Content-Type"); ct != "" && !allowedContentType(ct) {
		indicators = append(indicators, IndicatorBadContentType)
	}

	if len(indicators) == 0 {
		return AttackReport{Severity: "LOW"}
	}

	logging.Security.Printf("attack detected: ip=%s indicators=%v url=%s", ip, indicators, rawURL)

	severity := "MEDIUM"
	for _, ind := range indicators {
		if ind == IndicatorBlockedIP {
			severity = "HIGH"
		}
		if ind == IndicatorBlockedIP || ind == IndicatorPathTraversal {
			g.Block(ip, "attack detected: "+strings.Join(indicators, ", "))
		}
	}

	return AttackReport{IsAttack: true, Indicators: indicators, Severity: severity}
}

func isKnownBrowser(userAgent string) bool {
	for _, marker := range knownBrowserMarkers {
		if strings.Contains(userAgent, marker) {
			return true
		}
	}
	return false
}

func allowedContentType(ct string) bool {
	for _, t := range []string{"application/json", "multipart/form-data", "application/x-www-form-urlencoded"} {
		if strings.Contains(ct, t) {
			return true
		}
	}
	return false
}

// ValidateInput checks a client-supplied string against the rules for
// its kind. All kinds except id also run the suspicious pattern list.
func (g *Gate) ValidateInput(kind InputKind, s string) bool {
	if s == "" {
		return false
	}

	switch kind {
	case InputID:
		return idPattern.MatchString(s)
	case InputFilename:
		return len(s) <= 255 && !matchesSuspicious(s) && filenamePattern.MatchString(s)
	case InputURL:
		u, err := url.Parse(s)
		if err != nil {
			return false
		}
		return (u.Scheme == "http" || u.Scheme == "https") &&
			len(u.Hostname()) > 0 && len(u.Hostname()) <= 253 &&
			!matchesSuspicious(s)
	case InputText:
		return len(s) <= 1000 && !matchesSuspicious(s)
	default:
		return false
	}
}

func matchesSuspicious(s string) bool {
	for _, pattern := range suspiciousPatterns {
		if pattern.MatchString(s) {
			return true
		}
	}
	return false
}

// ClientIP extracts the original client address, honoring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
