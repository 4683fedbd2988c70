package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	base := stderrors.New("connection refused")
	err := Wrap(base, "relay.Server", "Start", "bind listener")

	assert.Equal(t, "relay.Server.Start: bind listener failed: connection refused", err.Error())
	assert.True(t, Is(err, base))

	assert.Nil(t, Wrap(nil, "c", "m", "a"))
}

func TestWrapClassifications(t *testing.T) {
	base := stderrors.New("boom")

	transient := WrapTransient(base, "c", "m", "a")
	invalid := WrapInvalid(base, "c", "m", "a")
	fatal := WrapFatal(base, "c", "m", "a")

	assert.True(t, IsTransient(transient))
	assert.False(t, IsInvalid(transient))
	assert.False(t, IsFatal(transient))

	assert.True(t, IsInvalid(invalid))
	assert.False(t, IsTransient(invalid))

	assert.True(t, IsFatal(fatal))
	assert.False(t, IsTransient(fatal))

	// Wrapped chains keep the original error reachable.
	assert.True(t, Is(transient, base))
	assert.True(t, Is(fatal, base))

	assert.Nil(t, WrapTransient(nil, "c", "m", "a"))
	assert.Nil(t, WrapInvalid(nil, "c", "m", "a"))
	assert.Nil(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassifiedError_Unwrap(t *testing.T) {
	base := stderrors.New("boom")
	err := WrapTransient(base, "c", "m", "a")

	var ce *ClassifiedError
	require.True(t, As(err, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "c", ce.Component)
	assert.Equal(t, "m", ce.Operation)
	assert.True(t, stderrors.Is(ce.Unwrap(), base))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorFatal, Classify(ErrInvalidConfig))
	assert.Equal(t, ErrorInvalid, Classify(ErrUnknownResource))
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidToken))
	assert.Equal(t, ErrorTransient, Classify(ErrNoProducer))
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("something else")))
}

func TestIsTransient_SentinelsAndPatterns(t *testing.T) {
	assert.True(t, IsTransient(ErrConnectionTimeout))
	assert.True(t, IsTransient(ErrRequestTimeout))
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(fmt.Errorf("service unavailable")))
	assert.False(t, IsTransient(fmt.Errorf("permission denied")))
	assert.False(t, IsTransient(nil))
}

func TestIsInvalid_Sentinels(t *testing.T) {
	assert.True(t, IsInvalid(ErrUnknownRole))
	assert.True(t, IsInvalid(fmt.Errorf("auth: %w", ErrInvalidToken)))
	assert.False(t, IsInvalid(ErrNoProducer))
	assert.False(t, IsInvalid(nil))
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}
