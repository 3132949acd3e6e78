// Package keystore abstracts access to signing keys referenced by
// certificate identifier. Certificates and private keys are provisioned out
// of band; the transmission engine only consumes a signing capability.
package keystore

import (
	"context"
	"crypto"
	"errors"
	"io"
)

var (
	ErrKeyNotFound = errors.New("signing key not found")
	ErrKeyInvalid  = errors.New("signing key is invalid")
)

// Signer performs cryptographic signing for one certificate reference.
type Signer interface {
	Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error)
	Public() crypto.PublicKey
	Algorithm() string
}

// SignerProvider resolves a certificate reference to a signing capability.
// Implementations must be safe for concurrent use.
type SignerProvider interface {
	Signer(ctx context.Context, certificateRef string) (Signer, error)
}
