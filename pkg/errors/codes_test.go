package errors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeMapsAreComplete(t *testing.T) {
	for code := range ErrorCodeHTTPStatus {
		_, ok := ErrorCodeMessage[code]
		assert.True(t, ok, "code %s has no default message", code)
	}
	for code := range ErrorCodeMessage {
		_, ok := ErrorCodeHTTPStatus[code]
		assert.True(t, ok, "code %s has no HTTP status", code)
	}
}

func TestHTTPStatusForCode_Fallback(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusForCode("NOPE_999"))
	assert.Equal(t, http.StatusBadRequest, HTTPStatusForCode(ErrCodeInvalidStructure))
	assert.Equal(t, "unknown error", DefaultMessageForCode("NOPE_999"))
}

func TestErrorCode_Module(t *testing.T) {
	assert.Equal(t, "DDI", ErrCodeFeatureShape.Module())
	assert.Equal(t, "COMMON", ErrCodeInternal.Module())
	assert.Equal(t, "OK", CodeOK.Module())
}
