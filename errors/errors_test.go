package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/Skryldev/webpbridge/errors"
)

func TestFail_MatchesKindAndCause(t *testing.T) {
	cause := stderrors.New("vp8: bad partition")
	err := apperrors.Fail(apperrors.CategoryDecode, "webp.decode", apperrors.ErrDecodeFailed, cause)

	assert.ErrorIs(t, err, apperrors.ErrDecodeFailed)
	assert.ErrorIs(t, err, cause)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryDecode))
	assert.False(t, apperrors.IsRetryable(err))
	assert.Equal(t, "[decode] webp.decode: decode failed: vp8: bad partition", err.Error())
}

func TestFail_NilCause(t *testing.T) {
	err := apperrors.Fail(apperrors.CategoryInput, "webp.set_raw", apperrors.ErrInvalidArguments, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArguments)
	assert.Equal(t, apperrors.CategoryInput, apperrors.CategoryOf(err))
}

func TestTransient(t *testing.T) {
	err := apperrors.Transient("local.put", stderrors.New("disk busy"))
	assert.True(t, apperrors.IsRetryable(err))
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryTransient))
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, apperrors.Wrap(apperrors.CategoryPipeline, "noop", nil))
	assert.Equal(t, apperrors.Category(""), apperrors.CategoryOf(stderrors.New("plain")))
}
