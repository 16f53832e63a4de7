package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRTPSourceNeedsAtLeastOnePort(t *testing.T) {
	_, err := NewRTPSource(0, 0)
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestNewRTPSourceAudioOnly(t *testing.T) {
	// Port 0 disables a kind; ephemeral ports keep the test isolated but
	// 0 means disabled here, so pick odd high ports unlikely to collide.
	s, err := NewRTPSource(39704, 0)
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.AudioTrack())
	assert.Nil(t, s.VideoTrack())
}

func TestNewRTPSourceBothKinds(t *testing.T) {
	s, err := NewRTPSource(39706, 39708)
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.AudioTrack())
	assert.NotNil(t, s.VideoTrack())
}
