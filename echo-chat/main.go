package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "echo-chat",
	Short: "Multi-user chat over one shared websocket to an echo server",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if flagDebug {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen})
	},
	SilenceUsage: true,
}

var (
	cfg       config
	flagDebug bool
)

func init() {
	var err error
	cfg, err = loadConfig()
	if err != nil {
		log.Warn().Err(err).Msg("[echo-chat] environment ignored")
	}
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", cfg.Debug, "verbose logging (env ECHO_CHAT_DEBUG)")
	rootCmd.AddCommand(newChatCmd(), newServeCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("execute echo-chat command")
		os.Exit(1)
	}
}
