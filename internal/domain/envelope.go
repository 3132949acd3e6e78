package domain

import "time"

// Envelope is the encrypted and optionally signed wire form of a document.
// It is owned by the transmission it was produced for and immutable once
// created. Only the key reference is retained, never the key itself.
type Envelope struct {
	Ciphertext         []byte
	KeyRef             string
	ContentHash        string
	Signed             bool
	Signature          []byte
	SignatureAlgorithm string
	SignFailureReason  string
	CreatedAt          time.Time
}
