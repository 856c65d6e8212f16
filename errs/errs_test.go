package errs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelsNeverMatchEachOther(t *testing.T) {
	assert.True(t, IsTryAgain(TryAgain))
	assert.True(t, IsEndOfStream(EndOfStream))
	assert.False(t, IsTryAgain(EndOfStream))
	assert.False(t, IsEndOfStream(TryAgain))
	assert.False(t, IsTryAgain(NewInvalidArgument("x")))
}

func TestTypedErrorsFormat(t *testing.T) {
	assert.Contains(t, NewInvalidArgument("bad codec %q", "foo").Error(), "bad codec \"foo\"")
	assert.Contains(t, NewNotFound("codec %d", 7).Error(), "codec 7")
	assert.Contains(t, NewNativeError("avcodec_send_packet", -11, "eagain").Error(), "avcodec_send_packet")
}

func TestNativeErrorWithoutDescription(t *testing.T) {
	err := NewNativeError("av_read_frame", -5, "")
	assert.Equal(t, "av_read_frame: native error -5", err.Error())
}
