// Package cmd holds the headless peer CLI: a broadcaster that pushes RTP into
// a room and a watcher that joins one, both driven over the relay's
// signaling websocket.
package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	serverKey = "server"
	roomKey   = "room"
	nameKey   = "name"
)

var rootCmd = &cobra.Command{
	Use:   "peer",
	Short: "Headless peer for Amiim World rooms",
	Long: `peer connects to an Amiim World relay server as either the broadcaster
of a room or one of its watchers. Media rides a WebRTC session negotiated
through the relay; the relay itself never sees the stream.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	},
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("server", "ws://localhost:8080/api/ws/signal", "signaling endpoint of the relay server")
	rootCmd.PersistentFlags().String("room", "", "room id to join")
	rootCmd.PersistentFlags().String("name", "", "display name")

	viper.BindPFlag(serverKey, rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag(roomKey, rootCmd.PersistentFlags().Lookup("room"))
	viper.BindPFlag(nameKey, rootCmd.PersistentFlags().Lookup("name"))
	viper.SetEnvPrefix("PEER")
	viper.AutomaticEnv()
}
