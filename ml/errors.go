package ml

import "fmt"

// UnknownCategoryError is returned when a categorical value was never observed while fitting.
type UnknownCategoryError struct {
	Field string
	Value string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Field, e.Value)
}

// InvalidInputError covers missing, malformed and out-of-range request fields.
type InvalidInputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s %s (got %q)", e.Field, e.Reason, e.Value)
}

// ModelUnavailableError is returned by every inference call while no usable model is loaded.
type ModelUnavailableError struct {
	Reason string
}

func (e *ModelUnavailableError) Error() string {
	if e.Reason == "" {
		return "model unavailable"
	}
	return "model unavailable: " + e.Reason
}

// PredictionError wraps a failure raised by the model for a well-formed vector.
type PredictionError struct {
	Err error
}

func (e *PredictionError) Error() string {
	return "prediction failed: " + e.Err.Error()
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}

func missingField(field string) error {
	return &InvalidInputError{Field: field, Reason: "is required"}
}
