package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"kerrokantasi/api/internal/auth"
	"kerrokantasi/api/internal/geo"
	"kerrokantasi/api/internal/media"
	"kerrokantasi/api/internal/plugin"
	"kerrokantasi/api/internal/rbac"
	"kerrokantasi/api/internal/reconcile"
	"kerrokantasi/api/internal/store"
	"kerrokantasi/api/internal/translation"
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

const (
	CodeAuthRequired         = "AUTH_REQUIRED"
	CodeStrongAuthRequired   = "STRONG_AUTH_REQUIRED"
	CodeCommentingDisabled   = "COMMENTING_DISABLED"
	CodeVotingDisabled       = "VOTING_DISABLED"
	CodeHearingClosed        = "HEARING_CLOSED"
	CodeEmptyComment         = "EMPTY_COMMENT"
	CodePluginValidation     = "PLUGIN_VALIDATION_FAILED"
	CodePinNotAllowed        = "PIN_NOT_ALLOWED"
	CodeCardinality          = "CARDINALITY_VIOLATION"
	CodeForeignChild         = "FOREIGN_CHILD_REFERENCE"
	CodeImmutableField       = "IMMUTABLE_FIELD"
	CodePhaseInUse           = "PHASE_IN_USE"
	CodeSectionsInPatch      = "SECTIONS_IMMUTABLE_IN_PATCH"
	CodeInvalidTranslation   = "INVALID_TRANSLATION_SHAPE"
	CodeUnsupportedLanguage  = "UNSUPPORTED_LANGUAGE"
	CodeInvalidGeoJSON       = "INVALID_GEOJSON"
	CodeNotModified          = "NOT_MODIFIED"
	CodeImageTooLarge        = "IMAGE_TOO_LARGE"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodePermissionDenied     = "PERMISSION_DENIED"
	CodeNotFound             = "NOT_FOUND"
	CodeValidation           = "VALIDATION_ERROR"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeServerError          = "SERVER_ERROR"
	CodeTooManyRequests      = "TOO_MANY_REQUESTS"
	CodeInvalidBody          = "INVALID_BODY"
	CodeMethodNotAllowed     = "METHOD_NOT_ALLOWED"
)

func errNotFound() *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func errUnauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
}

func errNotModified() *DomainError {
	return domainError(http.StatusNotModified, CodeNotModified, "Not modified", nil)
}

func errPermissionDenied(message string) *DomainError {
	return domainError(http.StatusForbidden, CodePermissionDenied, message, nil)
}

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, CodeValidation, message, details)
}

func errUnsupportedOperation(message string) *DomainError {
	return domainError(http.StatusMethodNotAllowed, CodeUnsupportedOperation, message, nil)
}

func errHearingClosed() *DomainError {
	return domainError(http.StatusForbidden, CodeHearingClosed, "The hearing is closed", nil)
}

func errEmptyComment() *DomainError {
	return domainError(http.StatusBadRequest, CodeEmptyComment, "Either content or plugin data is required", nil)
}

func errPluginValidation(message string) *DomainError {
	return domainError(http.StatusBadRequest, CodePluginValidation, message, nil)
}

func errPinNotAllowed() *DomainError {
	return domainError(http.StatusBadRequest, CodePinNotAllowed, "Only organization admins can pin comments", nil)
}

func errImmutableField(field string) *DomainError {
	return domainError(http.StatusBadRequest, CodeImmutableField, field+" cannot be changed", map[string]any{"field": field})
}

func errPhaseInUse(ids []int64) *DomainError {
	return domainError(http.StatusBadRequest, CodePhaseInUse, "Project phases with hearings cannot be deleted", map[string]any{"phases": ids})
}

func errInvalidTranslation(field string) *DomainError {
	return domainError(http.StatusBadRequest, CodeInvalidTranslation, translation.ErrInvalidShape.Error(), map[string]any{"field": field})
}

func errUnsupportedLanguage(field, code string) *DomainError {
	return domainError(http.StatusBadRequest, CodeUnsupportedLanguage,
		fmt.Sprintf("%q is not a supported language", code), map[string]any{"field": field, "language": code})
}

func errInvalidGeoJSON(message string) *DomainError {
	return domainError(http.StatusBadRequest, CodeInvalidGeoJSON, message, nil)
}

// errPolicy turns a denied policy decision into the matching error.
func errPolicy(decision rbac.Decision, action rbac.Action) *DomainError {
	switch decision {
	case rbac.AuthRequired:
		return domainError(http.StatusForbidden, CodeAuthRequired, "Authentication is required to "+string(action), nil)
	case rbac.StrongAuthRequired:
		return domainError(http.StatusForbidden, CodeStrongAuthRequired, "Strong authentication is required to "+string(action), nil)
	default:
		if action == rbac.ActionVote {
			return domainError(http.StatusForbidden, CodeVotingDisabled, "Voting is disabled for this section", nil)
		}
		return domainError(http.StatusForbidden, CodeCommentingDisabled, "Commenting is disabled for this section", nil)
	}
}

// translationError attaches the field name to leaf translation errors.
func translationError(field string, err error) error {
	var unsupported *translation.UnsupportedLanguageError
	switch {
	case errors.As(err, &unsupported):
		return errUnsupportedLanguage(field, unsupported.Code)
	case errors.Is(err, translation.ErrInvalidShape):
		return errInvalidTranslation(field)
	default:
		return err
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var unsupported *translation.UnsupportedLanguageError
	var geoErr *geo.Error
	var pluginErr *plugin.ValidationError
	var foreign *reconcile.ForeignChildError
	var cardinality *reconcile.CardinalityError
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, CodeUnsupportedLanguage, err.Error(), nil
	case errors.Is(err, translation.ErrInvalidShape):
		return http.StatusBadRequest, CodeInvalidTranslation, err.Error(), nil
	case errors.As(err, &geoErr):
		return http.StatusBadRequest, CodeInvalidGeoJSON, geoErr.Message, nil
	case errors.As(err, &pluginErr):
		return http.StatusBadRequest, CodePluginValidation, pluginErr.Message, nil
	case errors.As(err, &foreign):
		return http.StatusBadRequest, CodeForeignChild, foreign.Error(), map[string]any{"kind": foreign.Kind, "id": foreign.ID}
	case errors.As(err, &cardinality):
		return http.StatusBadRequest, CodeCardinality, cardinality.Message, nil
	case errors.Is(err, reconcile.ErrSectionsInPatch):
		return http.StatusBadRequest, CodeSectionsInPatch, err.Error(), nil
	case errors.Is(err, media.ErrImageTooLarge):
		return http.StatusBadRequest, CodeImageTooLarge, err.Error(), nil
	case errors.Is(err, media.ErrFileTooLarge):
		return http.StatusBadRequest, CodeFileTooLarge, err.Error(), nil
	case errors.Is(err, media.ErrInvalidDataURL) || errors.Is(err, media.ErrWrongMediaType):
		return http.StatusBadRequest, CodeValidation, err.Error(), nil
	case errors.Is(err, media.ErrObjectNotFound):
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusBadRequest, CodeValidation, "Slug is already in use", map[string]any{"field": "slug"}
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
