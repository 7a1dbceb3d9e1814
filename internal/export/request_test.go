package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestSettingsDefaults(t *testing.T) {
	req := Request{SequenceID: "seq1"}
	s, err := req.Settings("/tmp/out.mp4")
	require.NoError(t, err)
	assert.Equal(t, "libx264", s.VideoCodec)
	assert.Equal(t, "8M", s.VideoBitrate)
	assert.Equal(t, 48000, s.SampleRate)
	assert.Equal(t, "video/mp4", req.MIMEType())
}

func TestRequestSettingsWebmHigh(t *testing.T) {
	req := Request{SequenceID: "seq1", Container: "webm", Quality: "high"}
	s, err := req.Settings("/tmp/out.webm")
	require.NoError(t, err)
	assert.Equal(t, "libvpx-vp9", s.VideoCodec)
	assert.Equal(t, "20M", s.VideoBitrate)
	assert.Equal(t, "video/webm", req.MIMEType())
}

func TestRequestRejectsUnknownValues(t *testing.T) {
	_, err := Request{SequenceID: "s", Container: "avi"}.Settings("x")
	assert.Error(t, err)
	_, err = Request{SequenceID: "s", Quality: "ultra"}.Settings("x")
	assert.Error(t, err)
}
