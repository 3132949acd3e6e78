// Package protect produces the encrypted, optionally signed envelope that is
// transmitted to the authority. Encryption is mandatory; signing happens only
// when a certificate reference is supplied and is best-effort: a signing
// failure is recorded on the envelope, never a hard precondition.
package protect

import (
	"context"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/keystore"
	"go.uber.org/zap"
)

// EncryptionError marks a protection failure caused by the key service or
// cipher setup. It is a retryable condition.
type EncryptionError struct {
	Message string
	Cause   error
}

func (e *EncryptionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("encryption error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("encryption error: %s", e.Message)
}

func (e *EncryptionError) Unwrap() error { return e.Cause }

type Protector struct {
	keys    KeyService
	signers keystore.SignerProvider
	logger  *zap.Logger
	now     func() time.Time
}

func NewProtector(keys KeyService, signers keystore.SignerProvider, logger *zap.Logger) (*Protector, error) {
	if keys == nil {
		return nil, fmt.Errorf("key service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Protector{
		keys:    keys,
		signers: signers,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Protect canonicalizes, hashes, optionally signs, and encrypts a document.
func (p *Protector) Protect(ctx context.Context, document []byte, certificateRef *string) (*domain.Envelope, error) {
	canonical, err := Canonicalize(document)
	if err != nil {
		return nil, fmt.Errorf("%w: document is not valid JSON: %v", domain.ErrValidation, err)
	}

	digest := sha256.Sum256(canonical)

	envelope := &domain.Envelope{
		ContentHash: hex.EncodeToString(digest[:]),
		CreatedAt:   p.now().UTC(),
	}

	if certificateRef != nil && *certificateRef != "" {
		p.sign(ctx, envelope, *certificateRef, digest[:])
	}

	keyRef, key, err := p.keys.DataKey(ctx)
	if err != nil {
		return nil, &EncryptionError{Message: "key service unavailable", Cause: err}
	}

	ciphertext, err := encrypt(key, canonical)
	if err != nil {
		return nil, &EncryptionError{Message: "cipher setup failed", Cause: err}
	}

	envelope.KeyRef = keyRef
	envelope.Ciphertext = ciphertext

	return envelope, nil
}

// Unprotect decrypts an envelope and verifies its content hash, returning
// the canonical document.
func (p *Protector) Unprotect(ctx context.Context, envelope *domain.Envelope) ([]byte, error) {
	key, err := p.keys.KeyByRef(ctx, envelope.KeyRef)
	if err != nil {
		return nil, &EncryptionError{Message: "key service unavailable", Cause: err}
	}

	plaintext, err := decrypt(key, envelope.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypting envelope: %w", err)
	}

	digest := sha256.Sum256(plaintext)
	if hex.EncodeToString(digest[:]) != envelope.ContentHash {
		return nil, fmt.Errorf("%w: content hash mismatch", domain.ErrValidation)
	}

	return plaintext, nil
}

func (p *Protector) sign(ctx context.Context, envelope *domain.Envelope, certificateRef string, digest []byte) {
	if p.signers == nil {
		envelope.SignFailureReason = "no signer provider configured"
		p.logger.Warn("skipping signature: no signer provider configured",
			zap.String("certificateRef", certificateRef),
		)
		return
	}

	signer, err := p.signers.Signer(ctx, certificateRef)
	if err != nil {
		envelope.SignFailureReason = err.Error()
		p.logger.Warn("skipping signature: signer unavailable",
			zap.String("certificateRef", certificateRef),
			zap.Error(err),
		)
		return
	}

	signature, err := signer.Sign(rand.Reader, digest, crypto.SHA256)
	if err != nil {
		envelope.SignFailureReason = err.Error()
		p.logger.Warn("skipping signature: signing failed",
			zap.String("certificateRef", certificateRef),
			zap.Error(err),
		)
		return
	}

	envelope.Signed = true
	envelope.Signature = signature
	envelope.SignatureAlgorithm = signer.Algorithm()
}

// Canonicalize re-serializes a JSON document with stable field ordering so
// the content hash is independent of the producer's key order.
func Canonicalize(document []byte) ([]byte, error) {
	var decoded any
	if err := json.Unmarshal(document, &decoded); err != nil {
		return nil, err
	}
	// encoding/json sorts map keys on marshal, which yields the canonical form.
	return json.Marshal(decoded)
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}
