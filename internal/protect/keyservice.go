package protect

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// KeyService is the key-management collaborator. It hands out the symmetric
// data key used for envelope encryption together with an opaque reference
// that is safe to persist in envelope metadata.
type KeyService interface {
	DataKey(ctx context.Context) (ref string, key []byte, err error)
	KeyByRef(ctx context.Context, ref string) ([]byte, error)
}

// StaticKeyService derives a fixed AES-256 key from a configured secret.
// Suitable for single-node deployments; larger installations plug in an
// external KMS behind the same interface.
type StaticKeyService struct {
	ref string
	key []byte
}

func NewStaticKeyService(secret string) (*StaticKeyService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("encryption secret is required")
	}

	key := sha256.Sum256([]byte(secret))
	fingerprint := sha256.Sum256(key[:])

	return &StaticKeyService{
		ref: "static:" + base64.RawURLEncoding.EncodeToString(fingerprint[:8]),
		key: key[:],
	}, nil
}

func (s *StaticKeyService) DataKey(ctx context.Context) (string, []byte, error) {
	return s.ref, s.key, nil
}

func (s *StaticKeyService) KeyByRef(ctx context.Context, ref string) ([]byte, error) {
	if ref != s.ref {
		return nil, fmt.Errorf("unknown key reference %q", ref)
	}
	return s.key, nil
}
