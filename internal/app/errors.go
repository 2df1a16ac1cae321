package app

import (
	"fmt"
	"net/http"
)

const (
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"
	codeValidation   = "VALIDATION_ERROR"
	codeNotFound     = "NOT_FOUND"
	codeConflict     = "CONFLICT"
	codeUnavailable  = "SERVICE_UNAVAILABLE"
	codeServerError  = "SERVER_ERROR"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errUnauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, codeUnauthorized, "Unauthorized", nil)
}

func errForbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, codeForbidden, message, nil)
}

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, codeValidation, message, details)
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, codeNotFound, message, nil)
}
