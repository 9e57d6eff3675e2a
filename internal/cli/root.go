// Package cli implements the voicelive command surface.
package cli

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vocalis-ai/voicelive/internal/dotenv"
	"github.com/vocalis-ai/voicelive/pkg/session"
)

var (
	flagEnvFile     string
	flagEndpoint    string
	flagModel       string
	flagVoice       string
	flagHistoryPath string
	flagAvatar      bool
	flagVerbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "voicelive",
	Short: "Real-time voice session client",
	Long:  "Talk to a realtime voice agent over a duplex channel: live audio, transcripts, and per-model usage costs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return dotenv.LoadFile(flagEnvFile)
	},
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	homeDir, _ := os.UserHomeDir()
	defaultHistory := filepath.Join(homeDir, ".voicelive", "history.db")

	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&flagEndpoint, "endpoint", "", "duplex channel endpoint (overrides VOICELIVE_ENDPOINT)")
	rootCmd.PersistentFlags().StringVarP(&flagModel, "model", "m", "", "voice model (overrides VOICELIVE_MODEL)")
	rootCmd.PersistentFlags().StringVar(&flagVoice, "voice", "", "voice name (overrides VOICELIVE_VOICE)")
	rootCmd.PersistentFlags().StringVar(&flagHistoryPath, "history", defaultHistory, "session history database path")
	rootCmd.PersistentFlags().BoolVar(&flagAvatar, "avatar", false, "attempt the avatar media upgrade")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

// loadConfig builds the session config from environment plus flag overrides.
func loadConfig() (session.Config, error) {
	cfg, err := session.LoadFromEnv()
	if flagEndpoint != "" {
		cfg.Endpoint = flagEndpoint
	}
	if flagModel != "" {
		cfg.Model = flagModel
	}
	if flagVoice != "" {
		cfg.Voice = flagVoice
	}
	if flagAvatar {
		cfg.AvatarEnabled = true
	}
	if err != nil {
		// Flags may have filled in what the environment lacked.
		err = cfg.Validate()
	}
	return cfg, err
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
