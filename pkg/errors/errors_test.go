package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/progres-go/pkg/errors"
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
		{"internal", errors.ErrCodeInternal, "unexpected failure"},
		{"unknown model", errors.ErrCodeUnknownModel, "unknown model \"v9\""},
		{"parse", errors.ErrCodeParseFailed, "no CA atoms"},
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
		})
	}
}

func TestAppError_ErrorFormat(t *testing.T) {
	t.Parallel()

	ae := errors.New(errors.ErrCodeInvalidParam, "min_similarity out of range")
	assert.Equal(t, "[CFG_001] min_similarity out of range", ae.Error())

	ae = ae.WithDetail("got 1.5")
	assert.Equal(t, "[CFG_001] min_similarity out of range: got 1.5", ae.Error())

	ae = ae.WithCause(fmt.Errorf("boom"))
	assert.Equal(t, "[CFG_001] min_similarity out of range: got 1.5: boom", ae.Error())
}

func TestWithDetail_DoesNotMutateReceiver(t *testing.T) {
	t.Parallel()

	orig := errors.New(errors.ErrCodeInternal, "x")
	clone := orig.WithDetail("d")
	assert.Empty(t, orig.Detail)
	assert.Equal(t, "d", clone.Detail)

	var nilErr *errors.AppError
	assert.Nil(t, nilErr.WithDetail("d"))
	assert.Nil(t, nilErr.WithCause(stderrors.New("c")))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, errors.Wrap(nil, errors.ErrCodeInternal, "x"))
}

func TestWrap_PreservesCodeWhenUnknown(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.ErrCodeCheckpointCorrupt, "bad header")
	outer := errors.Wrap(inner, errors.CodeUnknown, "loading model")
	assert.Equal(t, errors.ErrCodeCheckpointCorrupt, outer.Code)
	assert.True(t, stderrors.Is(outer, inner))

	foreign := errors.Wrap(stderrors.New("io"), errors.CodeUnknown, "x")
	assert.Equal(t, errors.CodeUnknown, foreign.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Chain inspection
// ─────────────────────────────────────────────────────────────────────────────

func TestIsCode_WalksChain(t *testing.T) {
	t.Parallel()

	base := errors.New(errors.ErrCodeDatabaseNotFound, "missing")
	wrapped := fmt.Errorf("search: %w", errors.Wrap(base, errors.ErrCodeInternal, "outer"))
	assert.True(t, errors.IsCode(wrapped, errors.ErrCodeDatabaseNotFound))
	assert.True(t, errors.IsCode(wrapped, errors.ErrCodeInternal))
	assert.False(t, errors.IsCode(wrapped, errors.ErrCodeParseFailed))
	assert.False(t, errors.IsCode(nil, errors.ErrCodeInternal))
}

func TestGetCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errors.CodeOK, errors.GetCode(nil))
	assert.Equal(t, errors.ErrCodeInternal, errors.GetCode(stderrors.New("plain")))
	assert.Equal(t, errors.ErrCodeUnknownModel, errors.GetCode(errors.New(errors.ErrCodeUnknownModel, "x")))
}

func TestCategoryPredicates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		parse  bool
		config bool
		dbNF   bool
		model  bool
	}{
		{"parse", errors.ParseError("a.pdb", "bad"), true, false, false, false},
		{"list line", errors.New(errors.ErrCodeListLineInvalid, "line 3"), true, false, false, false},
		{"invalid param", errors.InvalidParam("max_hits"), false, true, false, false},
		{"device", errors.New(errors.ErrCodeDeviceUnavailable, "cuda"), false, true, false, false},
		{"mismatch", errors.New(errors.ErrCodeModelMismatch, "v0.1"), false, true, false, false},
		{"db not found", errors.DatabaseNotFound("nope"), false, false, true, false},
		{"ckpt missing", errors.New(errors.ErrCodeCheckpointMissing, "x"), false, false, false, true},
		{"ckpt corrupt wrapped", fmt.Errorf("w: %w", errors.New(errors.ErrCodeCheckpointCorrupt, "x")), false, false, false, true},
		{"plain", stderrors.New("x"), false, false, false, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.parse, errors.IsParseError(tc.err))
			assert.Equal(t, tc.config, errors.IsConfigurationError(tc.err))
			assert.Equal(t, tc.dbNF, errors.IsDatabaseNotFound(tc.err))
			assert.Equal(t, tc.model, errors.IsModelLoadError(tc.err))
		})
	}
}

func TestParseError_CarriesPath(t *testing.T) {
	t.Parallel()
	ae := errors.ParseError("/tmp/x.cif", "truncated atom_site loop")
	assert.Equal(t, "/tmp/x.cif", ae.Detail)
	assert.Contains(t, ae.Error(), "STRUCT_001")
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatus(errors.ErrCodeInvalidParam))
	assert.Equal(t, http.StatusNotFound, errors.HTTPStatus(errors.ErrCodeDatabaseNotFound))
	assert.Equal(t, http.StatusInternalServerError, errors.HTTPStatus(errors.ErrorCode("NOPE_1")))
	assert.Equal(t, "CFG", errors.ErrCodeInvalidParam.Family())
}
