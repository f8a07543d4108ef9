package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/goliatone/go-reconciler/core"
)

const (
	AlgorithmSHA256 = "sha256"
	AlgorithmSHA512 = "sha512"

	EncodingHex    = "hex"
	EncodingBase64 = "base64"
)

type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

// Verify reports whether signature is the hex HMAC-SHA512 of rawBody under
// secret. It never panics and returns false for missing or malformed input.
func Verify(rawBody []byte, signature string, secret string) bool {
	return HMACSignature{Secret: secret}.Matches(rawBody, signature)
}

// Sign returns the hex HMAC of rawBody using algorithm (sha512 by default).
func Sign(rawBody []byte, secret string, algorithm string) string {
	mac := hmac.New(hashFor(algorithm), []byte(secret))
	_, _ = mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

type HMACSignature struct {
	Secret    string
	Algorithm string // sha256 | sha512
	Encoding  string // hex | base64
	Prefix    string
}

func (s HMACSignature) Matches(rawBody []byte, signature string) bool {
	if strings.TrimSpace(s.Secret) == "" {
		return false
	}
	signature = strings.TrimSpace(signature)
	if prefix := strings.TrimSpace(s.Prefix); prefix != "" {
		signature = strings.TrimSpace(strings.TrimPrefix(signature, prefix))
	}
	if signature == "" {
		return false
	}

	var (
		decoded []byte
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(s.Encoding)) {
	case EncodingBase64:
		decoded, err = base64.StdEncoding.DecodeString(signature)
	default:
		decoded, err = hex.DecodeString(strings.ToLower(signature))
	}
	if err != nil || len(decoded) == 0 {
		return false
	}

	mac := hmac.New(hashFor(s.Algorithm), []byte(s.Secret))
	_, _ = mac.Write(rawBody)
	return subtle.ConstantTimeCompare(decoded, mac.Sum(nil)) == 1
}

type HeaderHMACVerifier struct {
	Header    string
	Signature HMACSignature
}

func NewHeaderHMACVerifier(header string, secret string, algorithm string) HeaderHMACVerifier {
	header = strings.TrimSpace(header)
	if header == "" {
		header = core.DefaultSignatureHeader
	}
	return HeaderHMACVerifier{
		Header: header,
		Signature: HMACSignature{
			Secret:    secret,
			Algorithm: algorithm,
			Encoding:  EncodingHex,
		},
	}
}

func (v HeaderHMACVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	header := strings.TrimSpace(v.Header)
	signature := headerValue(req.Headers, header)
	if signature == "" {
		return core.Unauthorized("webhooks: "+header+" signature header is required", map[string]any{
			"provider_id": req.ProviderID,
			"header":      header,
		})
	}
	if !v.Signature.Matches(req.Body, signature) {
		return core.Unauthorized("webhooks: signature verification failed", map[string]any{
			"provider_id": req.ProviderID,
			"header":      header,
		})
	}
	return nil
}

func hashFor(algorithm string) func() hash.Hash {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case AlgorithmSHA256:
		return sha256.New
	default:
		return sha512.New
	}
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
