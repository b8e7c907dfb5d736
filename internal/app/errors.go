package app

import "fmt"

// DomainError is an error with an associated HTTP status and machine code.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details map[string]any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}
