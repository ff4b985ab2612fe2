package s3envelope

import (
	"bytes"
	"context"
	"crypto/cipher"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	calls   int
	secrets map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.calls++
	secret, ok := f.secrets[*params.Key]
	if !ok {
		return nil, assert.AnError
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(secret))}, nil
}

func newTestKMS(t *testing.T, fake *fakeS3) *KMS {
	t.Helper()
	return &KMS{
		client:    fake,
		bucket:    "broker-keys",
		keyPrefix: "keys/",
		aead:      make(map[string]cipher.AEAD),
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	fake := &fakeS3{secrets: map[string][]byte{"keys/delegation-secret": []byte("a very secret master key material")}}
	k := newTestKMS(t, fake)

	ct, err := k.Encrypt(context.Background(), "delegation-secret", []byte("hello"))
	require.NoError(t, err)

	pt, err := k.Decrypt(context.Background(), "delegation-secret", ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), pt)
}

func TestSecretFetchedOnceAndCached(t *testing.T) {
	fake := &fakeS3{secrets: map[string][]byte{"keys/cache-key": []byte("another secret value")}}
	k := newTestKMS(t, fake)

	_, err := k.Encrypt(context.Background(), "cache-key", []byte("x"))
	require.NoError(t, err)
	_, err = k.Encrypt(context.Background(), "cache-key", []byte("y"))
	require.NoError(t, err)

	assert.Equal(t, 1, fake.calls)
}

func TestUnknownKeyReturnsWrappedError(t *testing.T) {
	fake := &fakeS3{secrets: map[string][]byte{}}
	k := newTestKMS(t, fake)

	_, err := k.Encrypt(context.Background(), "does-not-exist", []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownKey)
}
