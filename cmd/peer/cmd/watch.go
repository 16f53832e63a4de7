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

	"github.com/TumwekwaseAmiim/amiim-world/internal/adapters/rtc"
	"github.com/TumwekwaseAmiim/amiim-world/internal/peer/signaling"
	"github.com/TumwekwaseAmiim/amiim-world/internal/peer/view"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Join a room as a watcher",
	Long: `watch joins a room and answers the broadcaster's media offer. Inbound
tracks are logged as they arrive; if the broadcaster drops, the watcher keeps
re-announcing itself until a new one shows up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := viper.GetString(roomKey)
		if roomID == "" {
			return fmt.Errorf("--room is required")
		}
		name := viper.GetString(nameKey)

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		factory := rtc.NewFactory(rtc.DefaultWebRTCConfig())

		client, err := signaling.Dial(ctx, viper.GetString(serverKey))
		if err != nil {
			return fmt.Errorf("dial signaling: %w", err)
		}
		defer client.Close()

		mgr := view.NewManager(client, factory, roomID, name, func(track *webrtc.TrackRemote) {
			log.Info().
				Str("module", "peer.cli").
				Str("kind", track.Kind().String()).
				Str("codec", track.Codec().MimeType).
				Msg("track received")
		})
		defer mgr.Close()

		client.Start(signaling.Handlers{
			OnSignal: func(_ string, data json.RawMessage) {
				mgr.HandleSignal(data)
			},
			OnDisconnectPeer: func(string) {
				mgr.HandleDisconnectPeer()
			},
			OnStreamMode: func(mode string) {
				log.Info().Str("module", "peer.cli").Str("mode", mode).Msg("stream mode")
			},
			OnWelcome: func(message, mode string) {
				fmt.Printf("%s (mode: %s)\n", message, mode)
			},
			OnChat: func(sender, msg string) {
				fmt.Printf("[chat] %s: %s\n", sender, msg)
			},
			OnEmoji: func(sender, emoji string) {
				fmt.Printf("[emoji] %s %s\n", sender, emoji)
			},
			OnGrantMic: func() {
				log.Info().Str("module", "peer.cli").Msg("microphone granted")
			},
			OnKickViewer: func() {
				log.Warn().Str("module", "peer.cli").Msg("kicked from room")
				cancel()
			},
			OnClosed: func(err error) {
				if err != nil {
					log.Error().Err(err).Str("module", "peer.cli").Msg("signaling lost")
				}
				cancel()
			},
		})

		if err := mgr.Join(ctx); err != nil {
			return fmt.Errorf("join: %w", err)
		}
		log.Info().Str("module", "peer.cli").Str("room", roomID).Msg("watching")

		<-ctx.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
