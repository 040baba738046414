// Package errors classifies failures so the command layer can decide how to
// report them: which class they belong to and what the user can do next.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Class is the category of a failure.
type Class int

const (
	// ClassStorage covers reads and writes of the object store or repository.
	ClassStorage Class = iota

	// ClassProjection means a document did not have the expected shape.
	ClassProjection

	// ClassResolution covers ambiguous or unknown identifiers.
	ClassResolution

	// ClassMerge covers merge preconditions, conflicts and aborts.
	ClassMerge

	// ClassValidation covers input rejected before anything is written.
	ClassValidation
)

var classNames = map[Class]string{
	ClassStorage:    "storage",
	ClassProjection: "projection",
	ClassResolution: "resolution",
	ClassMerge:      "merge",
	ClassValidation: "validation",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "unknown"
}

// ClassBehavior describes how the command layer treats a class.
type ClassBehavior struct {
	// UserFacing errors are expected outcomes reported without internals.
	UserFacing bool

	// ExitCode is the process exit status for the class.
	ExitCode int
}

// DefaultBehaviors returns the behavior of each class.
func DefaultBehaviors() map[Class]ClassBehavior {
	return map[Class]ClassBehavior{
		ClassStorage:    {UserFacing: false, ExitCode: 1},
		ClassProjection: {UserFacing: false, ExitCode: 1},
		ClassResolution: {UserFacing: true, ExitCode: 2},
		ClassMerge:      {UserFacing: true, ExitCode: 1},
		ClassValidation: {UserFacing: true, ExitCode: 2},
	}
}

// ClassifiedError wraps an error with its class and an optional hint.
type ClassifiedError struct {
	Class      Class
	Message    string
	Underlying error
	Hint       string
	Context    map[string]string
}

func (e *ClassifiedError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

func (e *ClassifiedError) Unwrap() error {
	return e.Underlying
}

// New creates a ClassifiedError.
func New(class Class, message string, underlying error) *ClassifiedError {
	return &ClassifiedError{
		Class:      class,
		Message:    message,
		Underlying: underlying,
		Context:    make(map[string]string),
	}
}

// WithHint attaches remediation text shown after the error.
func (e *ClassifiedError) WithHint(hint string) *ClassifiedError {
	e.Hint = hint
	return e
}

// WithContext attaches a key-value pair shown in verbose output.
func (e *ClassifiedError) WithContext(key, value string) *ClassifiedError {
	e.Context[key] = value
	return e
}

// ContextString renders the context pairs in key order.
func (e *ClassifiedError) ContextString() string {
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Context[k])
	}
	return strings.Join(parts, " ")
}

// Wrap classifies err, keeping an existing classification when err already
// carries one. A nil err stays nil.
func Wrap(class Class, message string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return &ClassifiedError{
			Class:      ce.Class,
			Message:    message,
			Underlying: err,
			Hint:       ce.Hint,
			Context:    ce.Context,
		}
	}
	return New(class, message, err)
}

// ClassOf returns the class of err, defaulting to ClassStorage.
func ClassOf(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassStorage
}

// HintOf returns the first hint found in the chain of err.
func HintOf(err error) string {
	for err != nil {
		var ce *ClassifiedError
		if !errors.As(err, &ce) {
			return ""
		}
		if ce.Hint != "" {
			return ce.Hint
		}
		err = ce.Underlying
	}
	return ""
}

// IsUserFacing reports whether err is an expected outcome.
func IsUserFacing(err error) bool {
	return DefaultBehaviors()[ClassOf(err)].UserFacing
}

// ExitCode returns the process exit status for err.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return DefaultBehaviors()[ClassOf(err)].ExitCode
}
