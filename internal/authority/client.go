package authority

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultSubmitTimeout = 30 * time.Second

type submitRequest struct {
	TransmissionID     string `json:"transmissionId"`
	OrganizationID     string `json:"organizationId"`
	DocumentRef        string `json:"documentRef"`
	Payload            string `json:"payload"`
	ContentHash        string `json:"contentHash"`
	Signature          string `json:"signature,omitempty"`
	SignatureAlgorithm string `json:"signatureAlgorithm,omitempty"`
}

type submitResponse struct {
	SubmissionID string `json:"submissionId"`
	Status       string `json:"status"`
}

// HTTPClient submits envelopes to the authority's REST endpoint. Calls are
// time-bounded so a stalled authority cannot starve the retry scheduler.
type HTTPClient struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPClient(baseURL, apiKey string) (*HTTPClient, error) {
	client := resty.New()
	client.SetTimeout(defaultSubmitTimeout)
	client.SetRetryCount(0)
	if strings.TrimSpace(apiKey) != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}

	return NewHTTPClientWithClient(baseURL, client)
}

func NewHTTPClientWithClient(baseURL string, client *resty.Client) (*HTTPClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("authority base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid authority base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSubmitTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPClient{
		client:  client,
		baseURL: trimmed,
	}, nil
}

func (c *HTTPClient) Submit(ctx context.Context, submission Submission) (*Receipt, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("authority client is not initialized")
	}
	if strings.TrimSpace(submission.TransmissionID) == "" {
		return nil, fmt.Errorf("transmission id is required")
	}
	if len(submission.Payload) == 0 {
		return nil, fmt.Errorf("payload is required")
	}

	reqBody := submitRequest{
		TransmissionID: submission.TransmissionID,
		OrganizationID: submission.OrganizationID,
		DocumentRef:    submission.DocumentRef,
		Payload:        base64.StdEncoding.EncodeToString(submission.Payload),
		ContentHash:    submission.ContentHash,
	}
	if submission.Signed {
		reqBody.Signature = base64.StdEncoding.EncodeToString(submission.Signature)
		reqBody.SignatureAlgorithm = submission.SignatureAlgorithm
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(c.baseURL + "/api/v1/invoices/submit")
	if err != nil {
		return nil, &AuthorityError{
			Message:   "authority request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	return c.receiptFrom(response)
}

func (c *HTTPClient) Status(ctx context.Context, submissionID string) (*Receipt, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("authority client is not initialized")
	}
	if strings.TrimSpace(submissionID) == "" {
		return nil, fmt.Errorf("submission id is required")
	}

	response, err := c.client.R().
		SetContext(ctx).
		Get(c.baseURL + "/api/v1/invoices/" + url.PathEscape(submissionID) + "/status")
	if err != nil {
		return nil, &AuthorityError{
			Message:   "authority status request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	return c.receiptFrom(response)
}

func (c *HTTPClient) receiptFrom(response *resty.Response) (*Receipt, error) {
	if response == nil {
		return nil, &AuthorityError{
			Message:   "authority returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		var parsed submitResponse
		// A success response without a parseable body still counts as accepted.
		_ = json.Unmarshal(response.Body(), &parsed)

		return &Receipt{
			SubmissionID: parsed.SubmissionID,
			Status:       parsed.Status,
			StatusCode:   statusCode,
			Body:         body,
			ReceivedAt:   time.Now().UTC(),
		}, nil
	}

	return nil, &AuthorityError{
		StatusCode: statusCode,
		Message:    errorMessage(statusCode, body),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func errorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("authority returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
