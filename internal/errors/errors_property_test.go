package errors

import (
	"net/http"
	"strconv"
	"testing"

	"pgregory.net/rapid"
)

var prebuiltErrors = []*APIError{
	ErrInvalidCredentialsError,
	ErrTokenExpiredError,
	ErrInvalidPersonalTokenError,
	ErrUserNotActiveError,
	ErrForbiddenError,
	ErrUserNotFoundError,
	ErrPoolTokenNotFoundError,
	ErrQuotaExceededError,
	ErrRateLimitedError,
	ErrNoAvailableCredentialError,
	ErrUpstreamUnavailableError,
	ErrUpstreamTimeoutError,
	ErrInternalServerError,
}

// TestErrorCodePrefixMatchesStatus tests that every prebuilt error's
// numeric code starts with its HTTP status, so clients can bucket errors
// without a lookup table.
func TestErrorCodePrefixMatchesStatus(t *testing.T) {
	for _, apiErr := range prebuiltErrors {
		prefix := strconv.Itoa(apiErr.HTTPStatus)
		code := string(apiErr.Code)
		if len(code) < len(prefix) || code[:len(prefix)] != prefix {
			t.Fatalf("Code %s does not carry status %d as prefix", code, apiErr.HTTPStatus)
		}
		if apiErr.Message == "" {
			t.Fatalf("Prebuilt error %s has no message", code)
		}
	}
}

// TestErrorResponseEnvelope tests that the wire envelope carries the
// request id, path and method alongside the error itself.
func TestErrorResponseEnvelope(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		errIdx := rapid.IntRange(0, len(prebuiltErrors)-1).Draw(rt, "errIdx")
		apiErr := prebuiltErrors[errIdx]

		requestID := rapid.StringMatching(`[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`).Draw(rt, "requestID")
		paths := []string{"/api/v1/admin/users", "/api/v1/me/allocations", "/v1/chat/completions"}
		methods := []string{"GET", "POST", "PUT", "DELETE"}
		path := paths[rapid.IntRange(0, len(paths)-1).Draw(rt, "pathIdx")]
		method := methods[rapid.IntRange(0, len(methods)-1).Draw(rt, "methodIdx")]

		response := NewErrorResponse(apiErr, requestID, path, method)

		if response.Error.Code != apiErr.Code {
			t.Fatalf("Envelope lost the error code: got %s, want %s", response.Error.Code, apiErr.Code)
		}
		if response.Error.Message == "" {
			t.Fatal("Envelope lost the message")
		}
		if response.RequestID != requestID {
			t.Fatalf("Envelope request id %q, want %q", response.RequestID, requestID)
		}
		if response.Path != path || response.Method != method {
			t.Fatalf("Envelope path/method %s %s, want %s %s",
				response.Method, response.Path, method, path)
		}
	})
}

// TestQuotaExceededDetails tests that the quota error carries the counts
// the caller needs to understand the rejection.
func TestQuotaExceededDetails(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		quota := rapid.IntRange(0, 100).Draw(rt, "quota")
		active := rapid.IntRange(0, quota).Draw(rt, "active")
		requested := rapid.IntRange(quota-active+1, 200).Draw(rt, "requested")

		apiErr := NewQuotaExceededError(active, requested, quota)

		if apiErr.Code != ErrQuotaExceeded {
			t.Fatalf("Expected quota error code, got %s", apiErr.Code)
		}
		if apiErr.HTTPStatus != http.StatusBadRequest {
			t.Fatalf("Expected 400 for quota rejection, got %d", apiErr.HTTPStatus)
		}

		details, ok := apiErr.Details.(map[string]int)
		if !ok {
			t.Fatalf("Details should be map[string]int, got %T", apiErr.Details)
		}
		if details["active_allocations"] != active ||
			details["requested"] != requested ||
			details["token_quota"] != quota {
			t.Fatalf("Details do not echo the counts: %+v", details)
		}
	})
}

// TestValidationErrorCarriesDetails tests that binding failures keep their
// field detail payload.
func TestValidationErrorCarriesDetails(t *testing.T) {
	details := map[string]string{"token_quota": "must be non-negative"}
	apiErr := NewValidationError(details)

	if apiErr.Code != ErrValidationFailed {
		t.Fatalf("Expected validation code, got %s", apiErr.Code)
	}
	if apiErr.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", apiErr.HTTPStatus)
	}
	if apiErr.Details == nil {
		t.Fatal("Details dropped")
	}
}

// TestAPIErrorImplementsError tests the error interface wiring
func TestAPIErrorImplementsError(t *testing.T) {
	var err error = ErrQuotaExceededError
	if err.Error() != ErrQuotaExceededError.Message {
		t.Fatalf("Error() should return the message, got %q", err.Error())
	}
}
