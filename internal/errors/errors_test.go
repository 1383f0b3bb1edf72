package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestCodedError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *CodedError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(CodeHistorySessionNotFound, "session s1 not found"),
			expected: "history.session_not_found: session s1 not found",
		},
		{
			name:     "error with cause",
			err:      Wrap(CodeStorageSaveFailed, "write history", errors.New("disk I/O error")),
			expected: "storage.save_failed: write history (disk I/O error)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCodedError_Unwrap(t *testing.T) {
	cause := errors.New("original error")
	err := Wrap(CodeInternal, "wrapped", cause)

	if err.Unwrap() != cause {
		t.Error("Unwrap() should return the original cause")
	}

	err2 := New(CodeHistoryEmptyBatch, "no images")
	if err2.Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil error", err: nil, expected: ""},
		{name: "CodedError", err: New(CodeSaveMissingFields, "missing"), expected: CodeSaveMissingFields},
		{
			name:     "wrapped CodedError",
			err:      Wrap(CodeStorageQuotaExceeded, "full", errors.New("cause")),
			expected: CodeStorageQuotaExceeded,
		},
		{name: "plain error", err: errors.New("some error"), expected: CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestToCodeAndMessage(t *testing.T) {
	code, message := ToCodeAndMessage(MissingFields())
	if code != CodeSaveMissingFields {
		t.Errorf("code = %q, want %q", code, CodeSaveMissingFields)
	}
	if message != "Missing required fields" {
		t.Errorf("message = %q, want %q", message, "Missing required fields")
	}

	code, message = ToCodeAndMessage(errors.New("boom"))
	if code != CodeUnknown || message != "boom" {
		t.Errorf("ToCodeAndMessage(plain) = (%q, %q)", code, message)
	}

	if c, m := ToCodeAndMessage(nil); c != "" || m != "" {
		t.Errorf("ToCodeAndMessage(nil) = (%q, %q), want empty", c, m)
	}
}

func TestGetMessage(t *testing.T) {
	if got := GetMessage(SessionNotFound("abc")); got != "session abc not found" {
		t.Errorf("GetMessage() = %q", got)
	}
	if got := GetMessage(errors.New("plain")); got != "plain" {
		t.Errorf("GetMessage() = %q", got)
	}
}

func TestErrorConstructors(t *testing.T) {
	t.Run("QuotaExceeded", func(t *testing.T) {
		err := QuotaExceeded(6000, 5000)
		if !IsCode(err, CodeStorageQuotaExceeded) {
			t.Errorf("code = %q", GetCode(err))
		}
		if err.Message != "write of 6000 bytes exceeds capacity of 5000 bytes" {
			t.Errorf("message = %q", err.Message)
		}
	})

	t.Run("ImageNotFound", func(t *testing.T) {
		err := ImageNotFound("s1", "i1")
		if !IsCode(err, CodeHistoryImageNotFound) {
			t.Errorf("code = %q", GetCode(err))
		}
		if err.Message != "image i1 not found in session s1" {
			t.Errorf("message = %q", err.Message)
		}
	})

	t.Run("InvalidPath", func(t *testing.T) {
		err := InvalidPath("sessionId", "../etc")
		if !IsCode(err, CodeSaveInvalidPath) {
			t.Errorf("code = %q", GetCode(err))
		}
	})

	t.Run("Internal", func(t *testing.T) {
		cause := errors.New("db connection lost")
		err := Internal("database error", cause)
		if !IsCode(err, CodeInternal) {
			t.Errorf("code = %q", GetCode(err))
		}
		if err.Cause != cause {
			t.Error("Internal() should preserve cause")
		}
	})
}

func TestErrorsAs(t *testing.T) {
	cause := errors.New("original")
	coded := Wrap(CodeStorageSaveFailed, "wrapped", cause)
	wrapped := Wrap(CodeInternal, "double wrapped", coded)

	var target *CodedError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should find CodedError in chain")
	}
	if target.Code != CodeInternal {
		t.Errorf("errors.As should find outermost CodedError, got code %q", target.Code)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should reach the innermost cause")
	}
}

func TestErrorCodes(t *testing.T) {
	codes := []string{
		CodeStorageOpenFailed,
		CodeStorageQueryFailed,
		CodeStorageSaveFailed,
		CodeStorageQuotaExceeded,
		CodeHistoryEmptyBatch,
		CodeHistorySessionNotFound,
		CodeHistoryImageNotFound,
		CodeHandleOpenFailed,
		CodePermissionDenied,
		CodeMirrorUnavailable,
		CodeSaveMissingFields,
		CodeSaveInvalidPath,
		CodeSaveDecodeFailed,
		CodeSaveWriteFailed,
		CodeConfigInvalid,
		CodeUnknown,
		CodeInternal,
	}

	for _, code := range codes {
		if code == "" {
			t.Error("error code should not be empty")
			continue
		}
		if !strings.Contains(code, ".") {
			t.Errorf("error code %q should be in format {domain}.{error}", code)
		}
	}
}
