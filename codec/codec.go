// Package codec encrypts Temporal payloads at rest. Saga inputs and results
// carry customer addresses, so nothing leaves the worker in clear text.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	commonpb "go.temporal.io/api/common/v1"
	"go.temporal.io/sdk/converter"
	"google.golang.org/protobuf/proto"
)

const (
	// MetadataEncodingEncrypted marks an encrypted payload
	MetadataEncodingEncrypted = "binary/encrypted"
	// MetadataEncryptionKeyID identifies the key a payload was sealed with
	MetadataEncryptionKeyID = "encryption-key-id"

	// KeySize is the AES-256 key length in bytes
	KeySize = 32
)

var ErrKeyMismatch = errors.New("payload was encrypted with a different key")

// Codec is an AES-256-GCM converter.PayloadCodec
type Codec struct {
	aead  cipher.AEAD
	keyID string
}

var _ converter.PayloadCodec = (*Codec)(nil)

// NewCodec creates a Codec for a 32 byte key
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(key)
	return &Codec{aead: aead, keyID: hex.EncodeToString(sum[:4])}, nil
}

// KeyID returns the non-secret identifier of the codec's key
func (c *Codec) KeyID() string { return c.keyID }

// Encode seals each payload, including its metadata
func (c *Codec) Encode(payloads []*commonpb.Payload) ([]*commonpb.Payload, error) {
	result := make([]*commonpb.Payload, len(payloads))
	for i, p := range payloads {
		plain, err := proto.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}

		nonce := make([]byte, c.aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return nil, fmt.Errorf("failed to generate nonce: %w", err)
		}

		result[i] = &commonpb.Payload{
			Metadata: map[string][]byte{
				converter.MetadataEncoding: []byte(MetadataEncodingEncrypted),
				MetadataEncryptionKeyID:    []byte(c.keyID),
			},
			Data: c.aead.Seal(nonce, nonce, plain, nil),
		}
	}
	return result, nil
}

// Decode opens encrypted payloads. Payloads that are not encrypted are
// returned unchanged.
func (c *Codec) Decode(payloads []*commonpb.Payload) ([]*commonpb.Payload, error) {
	result := make([]*commonpb.Payload, len(payloads))
	for i, p := range payloads {
		if string(p.GetMetadata()[converter.MetadataEncoding]) != MetadataEncodingEncrypted {
			result[i] = p
			continue
		}
		if keyID := string(p.GetMetadata()[MetadataEncryptionKeyID]); keyID != c.keyID {
			return nil, fmt.Errorf("%w: %s", ErrKeyMismatch, keyID)
		}

		data := p.GetData()
		size := c.aead.NonceSize()
		if len(data) < size {
			return nil, errors.New("encrypted payload is too short")
		}
		plain, err := c.aead.Open(nil, data[:size], data[size:], nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt payload: %w", err)
		}

		decoded := &commonpb.Payload{}
		if err := proto.Unmarshal(plain, decoded); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		result[i] = decoded
	}
	return result, nil
}

// NewEncryptionDataConverter wraps the default data converter with a Codec
func NewEncryptionDataConverter(key []byte) (converter.DataConverter, error) {
	c, err := NewCodec(key)
	if err != nil {
		return nil, err
	}
	return converter.NewCodecDataConverter(converter.GetDefaultDataConverter(), c), nil
}

// ResolveKey decodes a hex key. An empty key generates a random one, which
// the caller should log so the same key can be configured next time.
func ResolveKey(hexKey string) (key []byte, generated bool, err error) {
	if hexKey != "" {
		key, err = hex.DecodeString(hexKey)
		if err != nil {
			return nil, false, fmt.Errorf("failed to decode encryption key: %w", err)
		}
		if len(key) != KeySize {
			return nil, false, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
		}
		return key, false, nil
	}

	key = make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return key, true, nil
}
