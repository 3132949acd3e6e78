package keystore

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileProvider resolves certificate references to RSA keys stored as PEM
// files on disk at {keyDir}/{certificateRef}.key. Loaded signers are cached.
type FileProvider struct {
	keyDir string

	mu      sync.RWMutex
	signers map[string]*fileSigner
}

func NewFileProvider(keyDir string) (*FileProvider, error) {
	info, err := os.Stat(keyDir)
	if err != nil {
		return nil, fmt.Errorf("checking key directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("key directory is not a directory: %s", keyDir)
	}

	return &FileProvider{
		keyDir:  keyDir,
		signers: make(map[string]*fileSigner),
	}, nil
}

func (p *FileProvider) Signer(ctx context.Context, certificateRef string) (Signer, error) {
	p.mu.RLock()
	if signer, ok := p.signers[certificateRef]; ok {
		p.mu.RUnlock()
		return signer, nil
	}
	p.mu.RUnlock()

	signer, err := p.loadSigner(certificateRef)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.signers[certificateRef] = signer
	p.mu.Unlock()

	return signer, nil
}

func (p *FileProvider) loadSigner(certificateRef string) (*fileSigner, error) {
	keyPath := filepath.Join(p.keyDir, filepath.Base(certificateRef)+".key")

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, certificateRef)
		}
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in %s", ErrKeyInvalid, keyPath)
	}

	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
	}

	return &fileSigner{key: key}, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported key type %T", parsed)
	}
	return key, nil
}

type fileSigner struct {
	key *rsa.PrivateKey
}

func (s *fileSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.key.Sign(rand, digest, opts)
}

func (s *fileSigner) Public() crypto.PublicKey { return s.key.Public() }

func (s *fileSigner) Algorithm() string { return "RSA-SHA256" }
