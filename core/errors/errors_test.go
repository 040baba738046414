package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassString(t *testing.T) {
	tests := []struct {
		class    Class
		expected string
	}{
		{ClassStorage, "storage"},
		{ClassProjection, "projection"},
		{ClassResolution, "resolution"},
		{ClassMerge, "merge"},
		{ClassValidation, "validation"},
		{Class(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.class.String(); got != tt.expected {
				t.Errorf("Class.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestClassifiedErrorError(t *testing.T) {
	t.Run("with underlying error", func(t *testing.T) {
		err := New(ClassStorage, "update failed", errors.New("disk full"))
		if got := err.Error(); got != "update failed: disk full" {
			t.Errorf("Error() = %q", got)
		}
	})

	t.Run("without underlying error", func(t *testing.T) {
		err := New(ClassValidation, "title cannot be empty", nil)
		if got := err.Error(); got != "title cannot be empty" {
			t.Errorf("Error() = %q", got)
		}
	})
}

func TestWrapKeepsClassAndHint(t *testing.T) {
	inner := New(ClassMerge, "patch conflicts with main", nil).WithHint("rebase first")
	outer := Wrap(ClassStorage, "merge", fmt.Errorf("engine: %w", inner))

	if ClassOf(outer) != ClassMerge {
		t.Errorf("ClassOf = %v, want merge", ClassOf(outer))
	}
	if HintOf(outer) != "rebase first" {
		t.Errorf("HintOf = %q", HintOf(outer))
	}
	if !errors.Is(outer, inner) {
		t.Error("wrapped error should match inner with errors.Is")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(ClassStorage, "noop", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestClassOfPlainError(t *testing.T) {
	if ClassOf(errors.New("plain")) != ClassStorage {
		t.Error("plain errors should default to storage")
	}
	if HintOf(errors.New("plain")) != "" {
		t.Error("plain errors have no hint")
	}
}

func TestBehaviors(t *testing.T) {
	if !IsUserFacing(New(ClassResolution, "ambiguous", nil)) {
		t.Error("resolution errors are user facing")
	}
	if IsUserFacing(New(ClassProjection, "corrupt", nil)) {
		t.Error("projection errors are not user facing")
	}
	if ExitCode(nil) != 0 {
		t.Error("nil error exits 0")
	}
	if ExitCode(New(ClassValidation, "bad", nil)) != 2 {
		t.Error("validation errors exit 2")
	}
}

func TestContextString(t *testing.T) {
	err := New(ClassStorage, "x", nil).WithContext("type", "xyz.radicle.issue").WithContext("id", "abc")
	if got := err.ContextString(); got != "id=abc type=xyz.radicle.issue" {
		t.Errorf("ContextString() = %q", got)
	}
}
