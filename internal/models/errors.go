package models

// ValidationError is a client-input error that names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
