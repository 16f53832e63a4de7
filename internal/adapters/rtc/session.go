package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/TumwekwaseAmiim/amiim-world/internal/core"
)

var (
	ErrNoSender   = errors.New("no sender for track kind")
	ErrNotOfferer = errors.New("ice restart requires the offering side")
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Factory builds pion-backed sessions with a shared configuration.
type Factory struct {
	cfg webrtc.Configuration
}

func NewFactory(cfg webrtc.Configuration) *Factory {
	return &Factory{cfg: cfg}
}

func (f *Factory) NewSession(initiator bool, src core.MediaSource) (core.Session, error) {
	pc, err := webrtc.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	s := &PeerSession{pc: pc, initiator: initiator, state: core.SessionNew}
	if src != nil {
		if err := s.addTracks(src); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}
	return s, nil
}

// signalPayload is the opaque negotiation event relayed through the server.
type signalPayload struct {
	Type      string                   `json:"type,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// PeerSession implements core.Session over a pion PeerConnection.
type PeerSession struct {
	pc        *webrtc.PeerConnection
	initiator bool

	mu          sync.Mutex
	state       core.SessionState
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
	// Candidates arriving before the remote description are held back;
	// pion rejects them otherwise.
	pending   []webrtc.ICECandidateInit
	hasRemote bool

	onSignal func(json.RawMessage)
	onTrack  func(*webrtc.TrackRemote)
	onState  func(core.SessionState)

	closeOnce sync.Once
	cancel    context.CancelFunc
}

func (s *PeerSession) OnSignal(fn func(json.RawMessage))    { s.onSignal = fn }
func (s *PeerSession) OnTrack(fn func(*webrtc.TrackRemote)) { s.onTrack = fn }
func (s *PeerSession) OnStateChange(fn func(core.SessionState)) {
	s.onState = fn
}

func (s *PeerSession) addTracks(src core.MediaSource) error {
	if t := src.AudioTrack(); t != nil {
		sender, err := s.pc.AddTrack(t)
		if err != nil {
			return fmt.Errorf("add audio track: %w", err)
		}
		s.audioSender = sender
	}
	if t := src.VideoTrack(); t != nil {
		sender, err := s.pc.AddTrack(t)
		if err != nil {
			return fmt.Errorf("add video track: %w", err)
		}
		s.videoSender = sender
	}
	return nil
}

// Start wires callbacks and, for the offering side, produces the first offer.
func (s *PeerSession) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		s.emit(signalPayload{Candidate: &ci})
	})

	s.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", st.String()).Msg("peer state")
		switch st {
		case webrtc.PeerConnectionStateConnecting:
			s.setState(core.SessionConnecting)
		case webrtc.PeerConnectionStateConnected:
			s.setState(core.SessionConnected)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			s.setState(core.SessionDegraded)
		case webrtc.PeerConnectionStateClosed:
			s.setState(core.SessionClosed)
		}
	})

	s.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track received")
		if s.onTrack != nil {
			s.onTrack(track)
		}
	})

	context.AfterFunc(ctx, func() { s.Close() })

	if s.initiator {
		return s.sendOffer(nil)
	}
	return nil
}

func (s *PeerSession) sendOffer(opts *webrtc.OfferOptions) error {
	offer, err := s.pc.CreateOffer(opts)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	s.emit(signalPayload{Type: "offer", SDP: offer.SDP})
	return nil
}

// Signal applies one remote negotiation event. Late events against a closed
// session return an error the caller is expected to ignore.
func (s *PeerSession) Signal(data json.RawMessage) error {
	var p signalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("bad signal payload: %w", err)
	}

	switch {
	case p.Candidate != nil:
		return s.applyCandidate(*p.Candidate)
	case p.Type == "offer":
		return s.applyOffer(p.SDP)
	case p.Type == "answer":
		return s.applyAnswer(p.SDP)
	default:
		return fmt.Errorf("unrecognized signal payload")
	}
}

func (s *PeerSession) applyOffer(sdp string) error {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	s.flushCandidates()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	s.emit(signalPayload{Type: "answer", SDP: answer.SDP})
	return nil
}

func (s *PeerSession) applyAnswer(sdp string) error {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	s.flushCandidates()
	return nil
}

func (s *PeerSession) applyCandidate(ci webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if !s.hasRemote {
		s.pending = append(s.pending, ci)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.pc.AddICECandidate(ci)
}

func (s *PeerSession) flushCandidates() {
	s.mu.Lock()
	s.hasRemote = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, ci := range pending {
		if err := s.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("buffered candidate rejected")
		}
	}
}

// ReplaceSource swaps outgoing tracks in place; the negotiated state of the
// connection is untouched.
func (s *PeerSession) ReplaceSource(src core.MediaSource) error {
	s.mu.Lock()
	audioSender, videoSender := s.audioSender, s.videoSender
	s.mu.Unlock()

	if t := src.AudioTrack(); t != nil {
		if audioSender == nil {
			return fmt.Errorf("audio: %w", ErrNoSender)
		}
		if err := audioSender.ReplaceTrack(t); err != nil {
			return fmt.Errorf("replace audio track: %w", err)
		}
	}
	if t := src.VideoTrack(); t != nil {
		if videoSender == nil {
			return fmt.Errorf("video: %w", ErrNoSender)
		}
		if err := videoSender.ReplaceTrack(t); err != nil {
			return fmt.Errorf("replace video track: %w", err)
		}
	}
	return nil
}

// RestartICE renegotiates in place after a degraded report.
func (s *PeerSession) RestartICE() error {
	if !s.initiator {
		return ErrNotOfferer
	}
	return s.sendOffer(&webrtc.OfferOptions{ICERestart: true})
}

func (s *PeerSession) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if err := s.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("close error")
		}
		s.setState(core.SessionClosed)
	})
}

func (s *PeerSession) emit(p signalPayload) {
	if s.onSignal == nil {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("marshal signal payload")
		return
	}
	s.onSignal(b)
}

func (s *PeerSession) setState(next core.SessionState) {
	s.mu.Lock()
	if s.state == core.SessionClosed || s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	cb := s.onState
	s.mu.Unlock()
	if cb != nil {
		cb(next)
	}
}
