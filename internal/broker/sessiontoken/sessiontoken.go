// Package sessiontoken implements encode/decode/verify of the
// opaque session-token format clients carry.
//
// A token is base64url(header) "." base64url(ciphertext), where header is
// {"session_id": "<id>"} and ciphertext is Encrypt(DELEGATION_KEY,
// session.password). The header is unauthenticated JSON; integrity comes
// only from the inner ciphertext — Decode must
// never be trusted beyond using session_id as a store lookup key.
package sessiontoken

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gcp-broker/tokenbroker/internal/broker/crypto"
	"github.com/gcp-broker/tokenbroker/internal/broker/session"
)

// ErrMalformed is returned by Decode when the token does not split into
// exactly two dot-separated parts, or either part fails to decode.
var ErrMalformed = fmt.Errorf("sessiontoken: invalid session token")

type header struct {
	SessionID string `json:"session_id"`
}

// Encode builds a token for s, encrypting its password under the
// delegation-secret key.
func Encode(ctx context.Context, kms crypto.KMS, s *session.Session) (string, error) {
	ciphertext, err := kms.Encrypt(ctx, crypto.KeyDelegationSecret, s.Password)
	if err != nil {
		return "", fmt.Errorf("sessiontoken: encrypting password: %w", err)
	}

	headerJSON, err := json.Marshal(header{SessionID: s.ID})
	if err != nil {
		return "", fmt.Errorf("sessiontoken: marshalling header: %w", err)
	}

	encodedHeader := base64.URLEncoding.EncodeToString(headerJSON)
	encodedCipher := base64.URLEncoding.EncodeToString(ciphertext)
	return encodedHeader + "." + encodedCipher, nil
}

// Decode splits a token into its session id and the inner password
// ciphertext, without verifying anything. Any malformed structure returns
// ErrMalformed, which the caller surfaces as Unauthenticated.
func Decode(token string) (sessionID string, ciphertext []byte, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return "", nil, ErrMalformed
	}

	headerJSON, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", nil, ErrMalformed
	}

	var h header
	if err := json.Unmarshal(headerJSON, &h); err != nil || h.SessionID == "" {
		return "", nil, ErrMalformed
	}

	ciphertext, err = base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, ErrMalformed
	}

	return h.SessionID, ciphertext, nil
}

// Verify decrypts ciphertext under the delegation-secret key and compares
// it against s.Password in constant time. A decrypt failure or mismatch
// both report false; the caller is responsible for mapping that to
// Unauthenticated.
func Verify(ctx context.Context, kms crypto.KMS, s *session.Session, ciphertext []byte) bool {
	decrypted, err := kms.Decrypt(ctx, crypto.KeyDelegationSecret, ciphertext)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(decrypted, s.Password) == 1
}
