// Package s3envelope implements crypto.KMS by fetching per-key master
// secrets from S3 objects and performing AES-GCM sealing locally, the way
// dittofs's pkg/store/content/s3 wraps aws-sdk-go-v2/service/s3 behind a
// small domain-specific client rather than calling it ad hoc at each
// callsite. Each key id's secret is cached after first fetch; Decrypt/Encrypt
// never touch S3 again for a key id once its AEAD has been derived.
package s3envelope

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/crypto/hkdf"

	brokercrypto "github.com/gcp-broker/tokenbroker/internal/broker/crypto"
)

// ErrUnknownKey is returned when a requested key id has no backing S3
// object and no secret was ever resolved for it.
var ErrUnknownKey = errors.New("s3envelope kms: unknown key id")

// s3Client is the subset of *s3.Client this package needs, so tests can
// substitute a fake without standing up real S3.
type s3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// KMS resolves each key id's master secret lazily from
// s3://bucket/keyPrefix<keyID>, then derives and caches an AES-GCM AEAD from
// it exactly as the local backend does, so a key never needs re-fetching.
type KMS struct {
	client    s3Client
	bucket    string
	keyPrefix string

	mu   sync.RWMutex
	aead map[string]cipher.AEAD
}

// Config configures bucket/prefix and, optionally, a pre-built client (used
// by tests); when Client is nil, New builds one from the default AWS
// credential chain.
type Config struct {
	Bucket    string
	KeyPrefix string
	Client    *s3.Client
}

// New builds a KMS against an S3 bucket holding one object per key id.
func New(ctx context.Context, cfg Config) (*KMS, error) {
	client := cfg.Client
	if client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3envelope kms: loading aws config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg)
	}
	return &KMS{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		aead:      make(map[string]cipher.AEAD),
	}, nil
}

func (k *KMS) objectKey(keyID string) string {
	return k.keyPrefix + keyID
}

func (k *KMS) aeadFor(ctx context.Context, keyID string) (cipher.AEAD, error) {
	k.mu.RLock()
	aead, ok := k.aead[keyID]
	k.mu.RUnlock()
	if ok {
		return aead, nil
	}

	out, err := k.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(k.bucket),
		Key:    aws.String(k.objectKey(keyID)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownKey, keyID, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, fmt.Errorf("s3envelope kms: reading secret for %s: %w", keyID, err)
	}

	aead, err = deriveAEAD(keyID, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("s3envelope kms: deriving key %s: %w", keyID, err)
	}

	k.mu.Lock()
	k.aead[keyID] = aead
	k.mu.Unlock()
	return aead, nil
}

func deriveAEAD(keyID string, secret []byte) (cipher.AEAD, error) {
	hkdfReader := hkdf.New(sha256.New, secret, nil, []byte("tokenbroker-kms:"+keyID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt returns nonce||ciphertext, sealed under the AEAD derived for keyID.
func (k *KMS) Encrypt(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	aead, err := k.aeadFor(ctx, keyID)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt.
func (k *KMS) Decrypt(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	aead, err := k.aeadFor(ctx, keyID)
	if err != nil {
		return nil, err
	}
	nonceSize := aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("s3envelope kms: ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return aead.Open(nil, nonce, sealed, nil)
}

var _ brokercrypto.KMS = (*KMS)(nil)
