package courier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"cafe-orders/internal/domain"
)

const (
	HeaderTimestamp = "Timestamp"
	HeaderMarket    = "Market"
	HeaderRequestID = "Request-ID"
)

// Signer authenticates provider requests with HMAC-SHA256. It only ever runs
// inside the proxy, which is the sole holder of the secret.
type Signer struct {
	key    string
	secret []byte
	now    func() time.Time
}

func NewSigner(key, secret string) *Signer {
	return &Signer{key: key, secret: []byte(secret), now: time.Now}
}

// CanonicalString is what gets signed for one request.
func CanonicalString(timestamp, method, path, body string) string {
	return timestamp + "\r\n" + method + "\r\n" + path + "\r\n\r\n" + body
}

// Signature returns the base64 HMAC-SHA256 of the canonical string.
func (s *Signer) Signature(timestamp, method, path, body string) (string, error) {
	if s.key == "" || len(s.secret) == 0 {
		return "", fmt.Errorf("%w: missing api key or secret", domain.ErrSigningFailure)
	}
	mac := hmac.New(sha256.New, s.secret)
	if _, err := mac.Write([]byte(CanonicalString(timestamp, method, path, body))); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSigningFailure, err)
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Sign stamps req with a fresh timestamp, request id and authorization
// header. body must be exactly the bytes that will be sent.
func (s *Signer) Sign(req *http.Request, market string, body []byte) error {
	ts := s.now().UTC().Format(time.RFC3339Nano)
	path := req.URL.EscapedPath()
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}
	sig, err := s.Signature(ts, strings.ToUpper(req.Method), path, string(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "hmac "+s.key+":"+sig)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderMarket, market)
	req.Header.Set(HeaderRequestID, uuid.NewString())
	return nil
}
