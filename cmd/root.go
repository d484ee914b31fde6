package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/practicelog/internal/config"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "practicelog",
	Short: "Practice session timer, recorder and journal",
	Long: `practicelog tracks instrument practice sessions: elapsed time, a
recorder that captures takes from PipeWire sources, metronome, countdown
timer, tuner and notes, plus mood and focus ratings.

Sessions survive crashes: the live session is snapshotted to disk and can be
resumed with 'practicelog recover'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)
		loadDotEnv()

		// sources works without any configuration
		if cmd.Name() == "sources" && cfgFile == "" {
			return nil
		}

		if cfgFile == "" {
			cfgFile = os.ExpandEnv("$HOME/.config/practicelog.yaml")
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		slog.Debug("Configuration loaded", "config", cfgFile, "profile", cfg.Profile)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/practicelog.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=ffmpeg output, 3=max tracing")

	rootCmd.AddCommand(practiceCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadDotEnv loads .env.local and .env from the working directory. Variables
// already set in the environment win.
func loadDotEnv() {
	for _, p := range []string{".env.local", ".env"} {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			slog.Warn("Failed to load env file", "file", p, "error", err)
			continue
		}
		slog.Debug("Loaded env file", "file", p)
	}
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	case 1, 2, 3:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	slog.SetDefault(slog.New(handler))

	// Level 3 also turns on PipeWire client tracing in child processes
	if level >= 3 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
	}
}
