package bundle

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("load settings: %w", MalformedData("read pending update", io.ErrUnexpectedEOF))

	assert.ErrorIs(t, err, ErrMalformedData)
	assert.NotErrorIs(t, err, ErrInvalidUpdate)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, KindMalformedData, KindOf(err))
	assert.Equal(t, "load settings: read pending update: unexpected EOF", err.Error())
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestError_Messages(t *testing.T) {
	assert.Equal(t, "install", NotInitialized("install").Error())
	assert.Equal(t, "boom", (&Error{Err: errors.New("boom")}).Error())
	assert.Equal(t, "invalid configuration", ErrInvalidConfiguration.Error())
}

func TestSentinelDoesNotMatchSpecificError(t *testing.T) {
	specific := InvalidUpdate("verify", errors.New("bad signature"))
	// A specific error is not a target; only sentinels match by kind.
	assert.False(t, errors.Is(ErrInvalidUpdate, specific))
	assert.True(t, errors.Is(specific, ErrInvalidUpdate))
}

func TestParseInstallMode(t *testing.T) {
	for _, m := range []InstallMode{InstallImmediate, InstallOnNextRestart, InstallOnNextResume, InstallOnNextSuspend} {
		got, ok := ParseInstallMode(m.String())
		assert.True(t, ok, m.String())
		assert.Equal(t, m, got)
	}
	_, ok := ParseInstallMode("unknown")
	assert.False(t, ok)
}

func TestParseUpdateState(t *testing.T) {
	got, ok := ParseUpdateState("pending")
	assert.True(t, ok)
	assert.Equal(t, StatePending, got)
	_, ok = ParseUpdateState("")
	assert.False(t, ok)
}

func TestPackageClone(t *testing.T) {
	var nilPkg *Package
	assert.Nil(t, nilPkg.Clone())

	p := &Package{PackageHash: "h1", Label: "v1"}
	c := p.Clone()
	c.Label = "v2"
	assert.Equal(t, "v1", p.Label)
}
