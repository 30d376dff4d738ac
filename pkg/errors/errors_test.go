package errors

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Message != "configuration is invalid" {
			t.Errorf("Message = %q, want %q", err.Message, "configuration is invalid")
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Context == nil {
			t.Error("Context map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		retryableErr := NewError(ErrCodeIOError, "read failed")
		if !retryableErr.Retryable {
			t.Error("IOError should be retryable by default")
		}

		nonRetryableErr := NewError(ErrCodeFileNotFound, "missing")
		if nonRetryableErr.Retryable {
			t.Error("FileNotFound should not be retryable by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeFileNotFound, CategoryFilesystem},
		{ErrCodePermissionDenied, CategoryFilesystem},
		{ErrCodeIOError, CategoryFilesystem},
		{ErrCodeQueueFull, CategoryResource},
		{ErrCodeCapacityExceeded, CategoryResource},
		{ErrCodeEngineDestroyed, CategoryState},
		{ErrCodeOperationTimeout, CategoryOperation},
		{ErrCodeOperationCanceled, CategoryOperation},
		{ErrCodeRetryExhausted, CategoryOperation},
		{ErrCodeCycleDetected, CategoryGraph},
		{ErrCodeInternalError, CategoryInternal},
	}

	for _, tt := range tests {
		if got := GetCategory(tt.code); got != tt.want {
			t.Errorf("GetCategory(%v) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeQueueFull, "read queue saturated").
		WithComponent("ioopt").
		WithOperation("enqueue")

	msg := err.Error()
	if !strings.Contains(msg, "ioopt") || !strings.Contains(msg, "enqueue") {
		t.Errorf("Error() = %q, missing component/operation", msg)
	}
	if !strings.Contains(msg, "QUEUE_FULL") {
		t.Errorf("Error() = %q, missing code", msg)
	}
}

func TestUnwrapAndIs(t *testing.T) {
	t.Parallel()

	cause := os.ErrNotExist
	err := NewError(ErrCodeFileNotFound, "gone").WithCause(cause)

	if !errors.Is(err, os.ErrNotExist) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if !errors.Is(err, NewError(ErrCodeFileNotFound, "any message")) {
		t.Error("errors.Is should match by code")
	}
	if errors.Is(err, NewError(ErrCodeIOError, "any message")) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestFromOSError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"not exist", fs.ErrNotExist, ErrCodeFileNotFound},
		{"permission", fs.ErrPermission, ErrCodePermissionDenied},
		{"wrapped not exist", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrNotExist}, ErrCodeFileNotFound},
		{"other", errors.New("device busy"), ErrCodeIOError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromOSError(tt.err, "/some/path")
			if got.Code != tt.want {
				t.Errorf("FromOSError(%v).Code = %v, want %v", tt.err, got.Code, tt.want)
			}
			if got.Path != "/some/path" {
				t.Errorf("Path = %q, want /some/path", got.Path)
			}
		})
	}

	if FromOSError(nil, "/p") != nil {
		t.Error("FromOSError(nil) should return nil")
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrCodeOperationTimeout, "slow")
	if CodeOf(inner) != ErrCodeOperationTimeout {
		t.Error("CodeOf should return the code of a direct EngineError")
	}
	if CodeOf(errors.New("plain")) != ErrCodeUnknownError {
		t.Error("CodeOf of a plain error should be UNKNOWN_ERROR")
	}
	if !IsCode(inner, ErrCodeOperationTimeout) {
		t.Error("IsCode mismatch")
	}
}
