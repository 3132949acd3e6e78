package authority

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

func TestHTTPClientSubmitSuccess(t *testing.T) {
	t.Parallel()

	var gotBody submitRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/v1/invoices/submit" {
			t.Errorf("path = %s, want /api/v1/invoices/submit", r.URL.Path)
		}

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"submissionId":"firs-001","status":"submitted"}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.URL, "test-key")
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}

	payload := []byte("encrypted-bytes")
	receipt, err := client.Submit(context.Background(), Submission{
		TransmissionID: "t1",
		OrganizationID: "org-1",
		DocumentRef:    "INV-1",
		Payload:        payload,
		ContentHash:    "abc123",
		Signed:         true,
		Signature:      []byte("sig"),
	})
	if err != nil {
		t.Fatalf("Submit() unexpected error: %v", err)
	}

	if receipt.SubmissionID != "firs-001" {
		t.Fatalf("SubmissionID = %q, want firs-001", receipt.SubmissionID)
	}
	if receipt.Status != "submitted" {
		t.Fatalf("Status = %q, want submitted", receipt.Status)
	}
	if receipt.StatusCode != http.StatusAccepted {
		t.Fatalf("StatusCode = %d, want %d", receipt.StatusCode, http.StatusAccepted)
	}

	if gotBody.Payload != base64.StdEncoding.EncodeToString(payload) {
		t.Fatal("payload must be base64-encoded on the wire")
	}
	if gotBody.Signature == "" {
		t.Fatal("signature must be forwarded for signed submissions")
	}
}

func TestHTTPClientSubmitStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "unprocessable entity is permanent", statusCode: http.StatusUnprocessableEntity, wantTransient: false},
		{name: "unauthorized is permanent", statusCode: http.StatusUnauthorized, wantTransient: false},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("authority rejected"))
			}))
			defer server.Close()

			client, err := NewHTTPClient(server.URL, "")
			if err != nil {
				t.Fatalf("NewHTTPClient() error = %v", err)
			}

			_, err = client.Submit(context.Background(), Submission{
				TransmissionID: "t1",
				OrganizationID: "org-1",
				DocumentRef:    "INV-1",
				Payload:        []byte("payload"),
			})
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var authErr *AuthorityError
			if !errors.As(err, &authErr) {
				t.Fatalf("expected AuthorityError, got %T", err)
			}
			if authErr.StatusCode != tc.statusCode {
				t.Fatalf("AuthorityError.StatusCode = %d, want %d", authErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestHTTPClientSubmitTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	c, err := NewHTTPClientWithClient(server.URL, client)
	if err != nil {
		t.Fatalf("NewHTTPClientWithClient() error = %v", err)
	}

	_, err = c.Submit(context.Background(), Submission{
		TransmissionID: "t1",
		OrganizationID: "org-1",
		DocumentRef:    "INV-1",
		Payload:        []byte("payload"),
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestHTTPClientStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/invoices/firs-001/status" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"submissionId":"firs-001","status":"accepted"}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.URL, "")
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}

	receipt, err := client.Status(context.Background(), "firs-001")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if receipt.Status != "accepted" {
		t.Fatalf("status = %q, want accepted", receipt.Status)
	}
}
