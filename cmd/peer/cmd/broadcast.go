package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TumwekwaseAmiim/amiim-world/internal/adapters/media"
	"github.com/TumwekwaseAmiim/amiim-world/internal/adapters/rtc"
	"github.com/TumwekwaseAmiim/amiim-world/internal/peer/broadcast"
	"github.com/TumwekwaseAmiim/amiim-world/internal/peer/signaling"
)

var broadcastCmd = &cobra.Command{
	Use:   "broadcast",
	Short: "Broadcast RTP media into a room",
	Long: `broadcast claims the broadcaster seat of a room and offers a media
session to every watcher the relay announces. Media is read as raw RTP from
local UDP ports, e.g. fed by ffmpeg or gstreamer:

  ffmpeg -re -i input.webm -an -c:v libvpx -f rtp rtp://127.0.0.1:5006`,
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := viper.GetString(roomKey)
		if roomID == "" {
			return fmt.Errorf("--room is required")
		}
		name := viper.GetString(nameKey)
		if name == "" {
			name = "Broadcaster"
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		audioPort, _ := cmd.Flags().GetInt("audio-port")
		videoPort, _ := cmd.Flags().GetInt("video-port")
		src, err := media.NewRTPSource(audioPort, videoPort)
		if err != nil {
			return fmt.Errorf("media source: %w", err)
		}
		defer src.Close()
		src.Start(ctx)

		factory := rtc.NewFactory(rtc.DefaultWebRTCConfig())

		client, err := signaling.Dial(ctx, viper.GetString(serverKey))
		if err != nil {
			return fmt.Errorf("dial signaling: %w", err)
		}
		defer client.Close()

		mgr := broadcast.NewManager(client, factory, roomID, src)
		defer mgr.Close()
		mgr.OnViewerTrack(func(viewerID string, track *webrtc.TrackRemote) {
			log.Info().
				Str("module", "peer.cli").
				Str("viewer", viewerID).
				Str("kind", track.Kind().String()).
				Msg("viewer track received")
		})

		client.Start(signaling.Handlers{
			OnWatcher: func(viewerID, viewerName string) {
				mgr.HandleWatcher(ctx, viewerID, viewerName)
			},
			OnSignal: func(viewerID string, data json.RawMessage) {
				mgr.HandleSignal(viewerID, data)
			},
			OnDisconnectPeer: func(peerID string) {
				mgr.HandleDisconnectPeer(peerID)
			},
			OnViewerCount: func(count int) {
				log.Info().Str("module", "peer.cli").Int("count", count).Msg("viewers")
			},
			OnChat: func(sender, msg string) {
				fmt.Printf("[chat] %s: %s\n", sender, msg)
			},
			OnRaiseHand: func(sender string) {
				fmt.Printf("[hand] %s raised their hand\n", sender)
			},
			OnFeedback: func(from, text string) {
				fmt.Printf("[feedback] %s: %s\n", from, text)
			},
			OnClosed: func(err error) {
				if err != nil {
					log.Error().Err(err).Str("module", "peer.cli").Msg("signaling lost")
				}
				cancel()
			},
		})

		if err := client.AnnounceBroadcaster(roomID, name); err != nil {
			return fmt.Errorf("announce: %w", err)
		}
		if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
			if err := client.SetStreamMode(roomID, mode); err != nil {
				return fmt.Errorf("set mode: %w", err)
			}
		}
		log.Info().Str("module", "peer.cli").Str("room", roomID).Msg("broadcasting")

		<-ctx.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(broadcastCmd)
	broadcastCmd.Flags().Int("audio-port", 5004, "local UDP port to read Opus RTP from (0 disables audio)")
	broadcastCmd.Flags().Int("video-port", 5006, "local UDP port to read VP8 RTP from (0 disables video)")
	broadcastCmd.Flags().String("mode", "", "initial stream mode (slides or event)")
}
