package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeStorageError       ErrorCode = "COMMON_017"
)

const (
	CodeOK      = ErrorCode("OK")
	CodeUnknown = ErrorCode("UNKNOWN")
)

// Interaction Module Error Codes
const (
	ErrCodeInvalidStructure  ErrorCode = "DDI_001"
	ErrCodeUnknownDrug       ErrorCode = "DDI_002"
	ErrCodeFeatureShape      ErrorCode = "DDI_003"
	ErrCodeArtifactNotLoaded ErrorCode = "DDI_004"
	ErrCodeCorpusSchema      ErrorCode = "DDI_005"
	ErrCodeArtifactCorrupt   ErrorCode = "DDI_006"
	ErrCodeTaxonomyMismatch  ErrorCode = "DDI_007"
	ErrCodeEmptyCorpus       ErrorCode = "DDI_008"
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeStorageError:       http.StatusInternalServerError,

	ErrCodeInvalidStructure:  http.StatusBadRequest,
	ErrCodeUnknownDrug:       http.StatusNotFound,
	ErrCodeFeatureShape:      http.StatusInternalServerError,
	ErrCodeArtifactNotLoaded: http.StatusServiceUnavailable,
	ErrCodeCorpusSchema:      http.StatusUnprocessableEntity,
	ErrCodeArtifactCorrupt:   http.StatusInternalServerError,
	ErrCodeTaxonomyMismatch:  http.StatusInternalServerError,
	ErrCodeEmptyCorpus:       http.StatusUnprocessableEntity,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization error",
	ErrCodeCacheError:         "cache error",
	ErrCodeStorageError:       "object storage error",

	ErrCodeInvalidStructure:  "invalid molecular structure",
	ErrCodeUnknownDrug:       "unknown drug",
	ErrCodeFeatureShape:      "feature width mismatch",
	ErrCodeArtifactNotLoaded: "scoring artifact not loaded",
	ErrCodeCorpusSchema:      "corpus schema invalid",
	ErrCodeArtifactCorrupt:   "artifact corrupt",
	ErrCodeTaxonomyMismatch:  "label taxonomy mismatch",
	ErrCodeEmptyCorpus:       "no usable rows in corpus",
}

// HTTPStatusForCode returns the HTTP status for code, 500 when unmapped.
func HTTPStatusForCode(code ErrorCode) int {
	if s, ok := ErrorCodeHTTPStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for code.
func DefaultMessageForCode(code ErrorCode) string {
	if m, ok := ErrorCodeMessage[code]; ok {
		return m
	}
	return "unknown error"
}

// Module returns the module prefix of the code, e.g. "DDI" for "DDI_003".
func (c ErrorCode) Module() string {
	s := string(c)
	if i := strings.IndexByte(s, '_'); i > 0 {
		return s[:i]
	}
	return s
}
