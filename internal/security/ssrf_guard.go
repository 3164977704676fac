// Package security は外部URLへのアクセス制御と入力HTMLの無害化を提供する。
package security

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService は外部URLへのアクセスを制限する。
// GoogleのJWKS取得とアバターURLの検証で使用される。
type SSRFGuardService interface {
	// NewSafeClient は内部ネットワークへ接続できず、レスポンスサイズが制限されたHTTPクライアントを返す。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL はDNS解決を伴わない静的な検証で、保存や取得をしてよいURLかを判定する。
	ValidateURL(rawURL string) error
}

// maxURLLength は保存を許可するURLの最大長。
const maxURLLength = 2048

// ErrResponseTooLarge はレスポンスボディが上限を超えたことを表す。
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

// blockedPrefixes はIPリテラルとして拒否するネットワーク範囲。
// net/netipのIsPrivate等で判定できない範囲のみを列挙する。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),     // カレントネットワーク
	netip.MustParsePrefix("100.64.0.0/10"), // キャリアグレードNAT
	netip.MustParsePrefix("192.0.0.0/24"),  // IETFプロトコル割り当て
	netip.MustParsePrefix("198.18.0.0/15"), // ベンチマーク用
}

// blockedHostnames は名前解決前に拒否するホスト名。
var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct {
	allowedSchemes []string
	allowedPorts   []uint16
}

// NewSSRFGuard はHTTP/HTTPSの標準ポートのみを許可するガードを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{
		allowedSchemes: []string{"http", "https"},
		allowedPorts:   []uint16{80, 443},
	}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを返す。
// safeurlは名前解決後のIPをDialerのControlフックで検証するため、DNS再バインディングも防ぐ。
// レスポンスボディはmaxResponseSizeバイトを超えるとErrResponseTooLargeで読み取りが失敗する。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	ports := make([]int, len(g.allowedPorts))
	for i, p := range g.allowedPorts {
		ports[i] = int(p)
	}
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(g.allowedSchemes...).
		SetAllowedPorts(ports...).
		Build()

	client := safeurl.Client(config).Client
	if maxResponseSize > 0 {
		base := client.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		client.Transport = &limitedTransport{base: base, limit: maxResponseSize}
	}
	return client
}

// ValidateURL はURLのスキーム、ポート、ホストを静的に検証する。
// 名前解決後の検証はNewSafeClientのクライアント側で行う。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("empty URL")
	}
	if len(rawURL) > maxURLLength {
		return fmt.Errorf("URL too long: %d bytes", len(rawURL))
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !g.schemeAllowed(scheme) {
		return fmt.Errorf("disallowed scheme: %q", scheme)
	}
	if parsed.User != nil {
		return errors.New("credentials in URL are not allowed")
	}
	if port := parsed.Port(); port != "" && !g.portAllowed(port) {
		return fmt.Errorf("disallowed port: %s", port)
	}

	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("blocked IP address: %s", addr)
		}
		return nil
	}

	if _, ok := blockedHostnames[host]; ok || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

func (g *ssrfGuard) schemeAllowed(scheme string) bool {
	for _, s := range g.allowedSchemes {
		if s == scheme {
			return true
		}
	}
	return false
}

func (g *ssrfGuard) portAllowed(port string) bool {
	for _, p := range g.allowedPorts {
		if fmt.Sprint(p) == port {
			return true
		}
	}
	return false
}

// isBlockedAddr は内部向けのアドレスかを判定する。IPv4射影IPv6はIPv4として扱う。
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// limitedTransport はレスポンスボディの読み取り量を制限する。
type limitedTransport struct {
	base  http.RoundTripper
	limit int64
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength > t.limit {
		resp.Body.Close()
		return nil, ErrResponseTooLarge
	}
	resp.Body = &limitedBody{ReadCloser: resp.Body, remaining: t.limit}
	return resp, nil
}

// limitedBody は上限を1バイトでも超えた時点でErrResponseTooLargeを返す。
type limitedBody struct {
	io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining < 0 {
		return 0, ErrResponseTooLarge
	}
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.ReadCloser.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return n, ErrResponseTooLarge
	}
	return n, err
}
