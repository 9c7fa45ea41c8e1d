package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/DDI-Intelligence/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// New / Wrap
// ─────────────────────────────────────────────────────────────────────────────

func TestNew_FieldsAreSetCorrectly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    errors.ErrorCode
		message string
	}{
		{"internal error", errors.ErrCodeInternal, "unexpected failure"},
		{"unknown drug", errors.ErrCodeUnknownDrug, "Aspirinn not found"},
		{"invalid structure", errors.ErrCodeInvalidStructure, "SMILES must not be empty"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ae := errors.New(tc.code, tc.message)
			require.NotNil(t, ae)
			assert.Equal(t, tc.code, ae.Code)
			assert.Equal(t, tc.message, ae.Message)
			assert.Empty(t, ae.Detail)
			assert.Nil(t, ae.Cause)
			assert.NotEmpty(t, ae.Stack)
		})
	}
}

func TestWrap_NilErrReturnsNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, errors.Wrap(nil, errors.ErrCodeInternal, "should not matter"))
}

func TestWrap_CauseChainIsPreserved(t *testing.T) {
	t.Parallel()

	root := stderrors.New("disk full")
	ae := errors.Wrap(root, errors.ErrCodeStorageError, "write artifact")
	require.NotNil(t, ae)
	assert.True(t, stderrors.Is(ae, root))
	assert.Contains(t, ae.Error(), "disk full")
}

func TestWrap_UnknownCodePreservesInnerCode(t *testing.T) {
	t.Parallel()

	inner := errors.UnknownDrug("Foo")
	outer := errors.Wrap(fmt.Errorf("ctx: %w", inner), errors.CodeUnknown, "resolve pair")
	assert.Equal(t, errors.ErrCodeUnknownDrug, outer.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Error() formatting
// ─────────────────────────────────────────────────────────────────────────────

func TestError_Format(t *testing.T) {
	t.Parallel()

	ae := errors.New(errors.ErrCodeFeatureShape, "feature width mismatch")
	assert.Equal(t, "[DDI_003] feature width mismatch", ae.Error())

	withDetail := ae.WithDetail("want=4096 got=10")
	assert.Equal(t, "[DDI_003] feature width mismatch: want=4096 got=10", withDetail.Error())
	assert.Empty(t, ae.Detail, "WithDetail must not mutate the receiver")
}

func TestWithDetail_NilReceiver(t *testing.T) {
	t.Parallel()

	var ae *errors.AppError
	assert.Nil(t, ae.WithDetail("x"))
	assert.Nil(t, ae.WithCause(stderrors.New("x")))
}

// ─────────────────────────────────────────────────────────────────────────────
// Chain inspection
// ─────────────────────────────────────────────────────────────────────────────

func TestIsCode_WalksNestedAppErrors(t *testing.T) {
	t.Parallel()

	inner := errors.InvalidStructure("C1CC", stderrors.New("unclosed ring 1"))
	outer := errors.Wrap(inner, errors.ErrCodeInternal, "encode pair")

	assert.True(t, errors.IsCode(outer, errors.ErrCodeInternal))
	assert.True(t, errors.IsCode(outer, errors.ErrCodeInvalidStructure))
	assert.True(t, errors.IsInvalidStructure(outer))
	assert.False(t, errors.IsFeatureShape(outer))
	assert.False(t, errors.IsCode(nil, errors.ErrCodeInternal))
	assert.False(t, errors.IsCode(stderrors.New("plain"), errors.ErrCodeInternal))
}

func TestTypedFactories(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    *errors.AppError
		check  func(error) bool
		status int
		detail string
	}{
		{"unknown drug", errors.UnknownDrug("Foo"), errors.IsUnknownDrug, http.StatusNotFound, `name="Foo"`},
		{"feature shape", errors.FeatureShape(4096, 10), errors.IsFeatureShape, http.StatusInternalServerError, "want=4096 got=10"},
		{"not loaded", errors.ArtifactNotLoaded("model"), errors.IsArtifactNotLoaded, http.StatusServiceUnavailable, "model"},
		{"invalid structure", errors.InvalidStructure("X", nil), errors.IsInvalidStructure, http.StatusBadRequest, `smiles="X"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
			assert.Equal(t, tt.detail, tt.err.Detail)
		})
	}
	assert.True(t, errors.IsNotFound(errors.UnknownDrug("Foo")))
}

func TestGetCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errors.CodeOK, errors.GetCode(nil))
	assert.Equal(t, errors.CodeUnknown, errors.GetCode(stderrors.New("plain")))
	assert.Equal(t, errors.ErrCodeCorpusSchema, errors.GetCode(errors.New(errors.ErrCodeCorpusSchema, "missing column")))
}

func TestStack_ContainsCallerFile(t *testing.T) {
	t.Parallel()

	ae := errors.Internal("boom")
	assert.True(t, strings.Contains(ae.Stack, "errors_test.go"))
}
