package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCodeThroughChain(t *testing.T) {
	base := Wrap(CodeRelayFailure, fmt.Errorf("dial tcp: refused"), "post order", WithMetadata("order_uid", "0xabc"))
	wrapped := fmt.Errorf("swap: %w", base)

	if got := CodeOf(wrapped); got != CodeRelayFailure {
		t.Fatalf("unexpected code: %s", got)
	}
	if !stdErrors.Is(wrapped, New(CodeRelayFailure, "")) {
		t.Fatalf("expected errors.Is to match on code")
	}
	if MetadataOf(wrapped)["order_uid"] != "0xabc" {
		t.Fatalf("metadata lost: %v", MetadataOf(wrapped))
	}
	if !RetryableError(wrapped) {
		t.Fatalf("relay failures should default to retryable")
	}
}

func TestOverrideRetryable(t *testing.T) {
	err := New(CodeRelayFailure, "order already posted", WithRetryable(false))
	if RetryableError(err) {
		t.Fatalf("override should disable retries")
	}
	if RetryableError(fmt.Errorf("plain")) {
		t.Fatalf("plain errors are never retryable")
	}
}

func TestShouldAlertUnknownErrors(t *testing.T) {
	if ShouldAlert(nil) {
		t.Fatalf("nil error must not alert")
	}
	if !ShouldAlert(fmt.Errorf("boom")) {
		t.Fatalf("untyped errors should alert")
	}
	if ShouldAlert(New(CodeSequenceBusy, "")) {
		t.Fatalf("busy sequences are not alert-worthy")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidArgument: 400,
		CodeSessionMissing:  401,
		CodeNotFound:        404,
		CodeSequenceBusy:    409,
		CodeRelayFailure:    503,
		CodeTxReverted:      502,
		CodeUnknown:         500,
	}
	for code, want := range cases {
		if got := HTTPStatus(code); got != want {
			t.Fatalf("%s: got %d want %d", code, got, want)
		}
	}
}

func TestNewUsesRegisteredMessage(t *testing.T) {
	Register("TEST_ONLY", Attributes{Message: "registered", Severity: SeverityInfo})
	err := New("TEST_ONLY", "")
	if err.Message() != "registered" {
		t.Fatalf("unexpected message %q", err.Message())
	}
	if err.Severity() != SeverityInfo {
		t.Fatalf("unexpected severity %s", err.Severity())
	}
}
