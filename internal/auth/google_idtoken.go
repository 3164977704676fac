package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultGoogleCertsURL = "https://www.googleapis.com/oauth2/v3/certs"
	defaultKeyCacheTTL    = time.Hour
)

// googleIssuers はGoogle IDトークンのissとして許容する値。
var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// ExternalIdentity は外部IdPで検証済みのユーザー情報を表す。
type ExternalIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Picture       string
}

// GoogleIDTokenConfig はGoogle IDトークン検証の設定。
type GoogleIDTokenConfig struct {
	ClientID string

	// HTTPClient は公開鍵の取得に使うクライアント。本番ではSSRF対策済みのクライアントを渡す。
	HTTPClient *http.Client

	// テスト用にオーバーライド可能な値
	CertsURL    string
	KeyCacheTTL time.Duration
	Now         func() time.Time
}

// GoogleIDTokenVerifier はGoogleが発行したIDトークンの署名とクレームを検証する。
// 公開鍵はJWKSエンドポイントから取得してキャッシュし、未知のkidを見たときに再取得する。
type GoogleIDTokenVerifier struct {
	config GoogleIDTokenConfig

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

// NewGoogleIDTokenVerifier はGoogleIDTokenVerifierを生成する。
func NewGoogleIDTokenVerifier(config GoogleIDTokenConfig) *GoogleIDTokenVerifier {
	if config.CertsURL == "" {
		config.CertsURL = defaultGoogleCertsURL
	}
	if config.KeyCacheTTL == 0 {
		config.KeyCacheTTL = defaultKeyCacheTTL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &GoogleIDTokenVerifier{
		config: config,
		keys:   make(map[string]*rsa.PublicKey),
	}
}

// googleClaims はGoogle IDトークンのペイロード。
type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// Verify はIDトークンを検証し、ユーザー情報を返す。
// 署名（RS256）、aud（クライアントID）、iss、expを検証する。
func (v *GoogleIDTokenVerifier) Verify(ctx context.Context, rawToken string) (*ExternalIdentity, error) {
	if v.config.ClientID == "" {
		return nil, errors.New("google client id is not configured")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.config.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.config.Now),
	)

	var claims googleClaims
	_, err := parser.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		return v.publicKey(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid id token: %w", err)
	}

	if !validIssuer(claims.Issuer) {
		return nil, fmt.Errorf("invalid issuer: %s", claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, errors.New("empty sub in id token")
	}

	return &ExternalIdentity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Picture:       claims.Picture,
	}, nil
}

// publicKey はkidに対応する公開鍵を返す。キャッシュにない場合はJWKSを再取得する。
func (v *GoogleIDTokenVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	fresh := v.config.Now().Before(v.expiresAt)
	v.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := v.fetchKeys(ctx); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("public key with kid %s not found", kid)
}

// jwks はJWKSエンドポイントのレスポンス。
type jwks struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// fetchKeys はJWKSを取得してキャッシュを置き換える。
func (v *GoogleIDTokenVerifier) fetchKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.CertsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create jwks request: %w", err)
	}

	resp, err := v.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("failed to decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	v.mu.Lock()
	v.keys = keys
	v.expiresAt = v.config.Now().Add(v.config.KeyCacheTTL)
	v.mu.Unlock()
	return nil
}

// parseRSAPublicKey はbase64url形式のモジュラスと指数からRSA公開鍵を復元する。
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(eBytes)
	if !exp.IsInt64() || exp.Int64() < 3 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(exp.Int64()),
	}, nil
}

func validIssuer(iss string) bool {
	for _, allowed := range googleIssuers {
		if iss == allowed {
			return true
		}
	}
	return false
}

// compile-time interface check
var _ IDTokenVerifier = (*GoogleIDTokenVerifier)(nil)
