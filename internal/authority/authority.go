package authority

import (
	"context"
	"time"
)

// Client is the outbound delivery port to the tax authority's API.
type Client interface {
	Submit(ctx context.Context, submission Submission) (*Receipt, error)
	Status(ctx context.Context, submissionID string) (*Receipt, error)
}

// Submission is one encrypted document handed to the authority.
type Submission struct {
	TransmissionID     string
	OrganizationID     string
	DocumentRef        string
	Payload            []byte
	ContentHash        string
	Signed             bool
	Signature          []byte
	SignatureAlgorithm string
}

// Receipt stores the authority's response metadata for audit and persistence.
type Receipt struct {
	SubmissionID string
	Status       string
	StatusCode   int
	Body         string
	ReceivedAt   time.Time
}
