package domain

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidRoomID(t *testing.T) {
	id, err := ValidRoomID("main-hall")
	require.NoError(t, err)
	assert.Equal(t, RoomID("main-hall"), id)

	_, err = ValidRoomID("")
	assert.ErrorIs(t, err, ErrRoomIDEmpty)

	_, err = ValidRoomID(strings.Repeat("x", MaxRoomIDLen+1))
	assert.ErrorIs(t, err, ErrRoomIDTooLong)

	_, err = ValidRoomID(strings.Repeat("x", MaxRoomIDLen))
	assert.NoError(t, err)
}

func TestCleanDisplayName(t *testing.T) {
	assert.Equal(t, "Anonymous", CleanDisplayName(""))
	assert.Equal(t, "Alice", CleanDisplayName("Alice"))

	long := strings.Repeat("n", MaxDisplayNameLen+10)
	assert.Equal(t, long[:MaxDisplayNameLen], CleanDisplayName(long))
}

func TestNormalizeMode(t *testing.T) {
	assert.Equal(t, ModeSlides, NormalizeMode("slides"))
	assert.Equal(t, ModeEvent, NormalizeMode("event"))
	assert.Equal(t, ModeSlides, NormalizeMode(""))
	assert.Equal(t, ModeSlides, NormalizeMode("karaoke"))
}

func TestFeedbackLogEviction(t *testing.T) {
	l := NewFeedbackLog(3)
	for i := 0; i < 5; i++ {
		l.Append(Feedback{Text: strconv.Itoa(i)})
	}
	require.Equal(t, 3, l.Len())

	got := l.Entries()
	assert.Equal(t, "2", got[0].Text)
	assert.Equal(t, "4", got[2].Text)
}

func TestFeedbackLogDefaultCapacity(t *testing.T) {
	l := NewFeedbackLog(0)
	for i := 0; i < FeedbackCapacity+1; i++ {
		l.Append(Feedback{Text: strconv.Itoa(i)})
	}
	assert.Equal(t, FeedbackCapacity, l.Len())
}
