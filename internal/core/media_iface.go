package core

import "github.com/pion/webrtc/v4"

// MediaSource is the live audio/video being sent. Tracks are shareable across
// sessions; swapping a source never requires recreating a session.
type MediaSource interface {
	AudioTrack() webrtc.TrackLocal
	VideoTrack() webrtc.TrackLocal
	Close()
}
