package app

import (
	"fmt"
	"net/http"

	"curio/api/internal/store"
)

// DomainError is an error with a fixed HTTP mapping. Details are written
// to the response as-is.
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

// invalidField is a 422 for one request field, shaped like validation.Error.
func invalidField(field, message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, map[string]string{field: message})
}

func errDragLocked() *DomainError {
	return domainError(http.StatusConflict, "DRAG_LOCKED", "Another curator is dragging on this board", nil)
}

func errBoardNotFound() *DomainError {
	return domainError(http.StatusNotFound, "BOARD_NOT_FOUND", "Board not found", nil)
}

func errArticleNotFound() *DomainError {
	return domainError(http.StatusNotFound, "ARTICLE_NOT_FOUND", "Article not found", nil)
}

// notFoundAs replaces a store miss with notFound and passes other errors on.
func notFoundAs(err error, notFound func() *DomainError) error {
	if store.IsNotFound(err) {
		return notFound()
	}
	return err
}
