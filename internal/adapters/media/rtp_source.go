// Package media provides MediaSource implementations for the headless
// clients. RTPSource ingests RTP over UDP (e.g. from ffmpeg or gstreamer)
// and feeds shared local tracks; pion fans each track out to every bound
// peer connection.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/TumwekwaseAmiim/amiim-world/internal/core"
)

const readBufferSize = 1600 // fits any UDP-carried RTP packet

var ErrNoSource = errors.New("rtp source needs at least one port")

type RTPSource struct {
	audio *webrtc.TrackLocalStaticRTP
	video *webrtc.TrackLocalStaticRTP

	audioConn *net.UDPConn
	videoConn *net.UDPConn

	cancel context.CancelFunc
}

// NewRTPSource listens for opus RTP on audioPort and VP8 RTP on videoPort.
// A port of 0 disables that kind.
func NewRTPSource(audioPort, videoPort int) (*RTPSource, error) {
	s := &RTPSource{}
	var err error

	if audioPort > 0 {
		s.audio, err = webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio", "amiim",
		)
		if err != nil {
			return nil, fmt.Errorf("audio track: %w", err)
		}
		s.audioConn, err = listenUDP(audioPort)
		if err != nil {
			return nil, fmt.Errorf("audio listen: %w", err)
		}
	}

	if videoPort > 0 {
		s.video, err = webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "amiim",
		)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("video track: %w", err)
		}
		s.videoConn, err = listenUDP(videoPort)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("video listen: %w", err)
		}
	}

	if s.audio == nil && s.video == nil {
		return nil, ErrNoSource
	}
	return s, nil
}

func listenUDP(port int) (*net.UDPConn, error) {
	return net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
}

// Start runs one pump per enabled track until ctx is done.
func (s *RTPSource) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.audioConn != nil {
		logger := log.With().Str("module", "media").Str("kind", "audio").Logger()
		go pump(ctx, s.audioConn, s.audio, &logger)
	}
	if s.videoConn != nil {
		logger := log.With().Str("module", "media").Str("kind", "video").Logger()
		go pump(ctx, s.videoConn, s.video, &logger)
	}
}

// pump reads RTP packets off the socket and forwards them to the track.
func pump(ctx context.Context, conn *net.UDPConn, track *webrtc.TrackLocalStaticRTP, logger *zerolog.Logger) {
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("pump ctx done")
			return
		default:
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			logger.Error().Err(err).Msg("pump read error, stopping")
			return
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			logger.Warn().Err(err).Msg("bad rtp packet")
			continue
		}
		if err := track.WriteRTP(&pkt); err != nil {
			// io.ErrClosedPipe means no peer is bound yet; keep pumping.
			if !errors.Is(err, io.ErrClosedPipe) {
				logger.Debug().Err(err).Msg("write rtp")
			}
		}
	}
}

func (s *RTPSource) AudioTrack() webrtc.TrackLocal {
	if s.audio == nil {
		return nil
	}
	return s.audio
}

func (s *RTPSource) VideoTrack() webrtc.TrackLocal {
	if s.video == nil {
		return nil
	}
	return s.video
}

func (s *RTPSource) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.audioConn != nil {
		_ = s.audioConn.Close()
	}
	if s.videoConn != nil {
		_ = s.videoConn.Close()
	}
}

var _ core.MediaSource = (*RTPSource)(nil)
