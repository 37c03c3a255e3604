package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrTokenMalformed = errors.New("storage: malformed download token")
	ErrTokenSignature = errors.New("storage: download token signature mismatch")
	ErrTokenExpired   = errors.New("storage: download token expired")
)

// DownloadClaims is the payload carried by a signed download token.
type DownloadClaims struct {
	JobID     string    `json:"job"`
	Path      string    `json:"path"`
	ExpiresAt time.Time `json:"-"`

	Exp int64 `json:"exp"`
}

// SignedURLSigner issues download tokens of the form base64(payload).base64(hmac-sha256).
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner builds a signer. ttl defaults to 24h.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a token granting access to path on behalf of jobID.
func (s *SignedURLSigner) Sign(jobID, path string) (string, time.Time, error) {
	if jobID == "" || path == "" {
		return "", time.Time{}, errors.New("storage: job id and path are required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, errors.New("storage: signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).UTC().Truncate(time.Second)
	payload, err := json.Marshal(DownloadClaims{JobID: jobID, Path: path, Exp: expiresAt.Unix()})
	if err != nil {
		return "", time.Time{}, err
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + s.mac(body), expiresAt, nil
}

// Verify checks the signature and, unless allowExpired is set, the expiry.
// Cleanup passes allowExpired to locate files behind stale tokens.
func (s *SignedURLSigner) Verify(token string, allowExpired bool) (DownloadClaims, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok || body == "" || sig == "" {
		return DownloadClaims{}, ErrTokenMalformed
	}
	if !hmac.Equal([]byte(sig), []byte(s.mac(body))) {
		return DownloadClaims{}, ErrTokenSignature
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return DownloadClaims{}, ErrTokenMalformed
	}
	var claims DownloadClaims
	if err := json.Unmarshal(raw, &claims); err != nil || claims.JobID == "" || claims.Path == "" {
		return DownloadClaims{}, ErrTokenMalformed
	}
	claims.ExpiresAt = time.Unix(claims.Exp, 0).UTC()
	if !allowExpired && s.now().After(claims.ExpiresAt) {
		return claims, ErrTokenExpired
	}
	return claims, nil
}

func (s *SignedURLSigner) mac(body string) string {
	h := hmac.New(sha256.New, s.secret)
	_, _ = h.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
