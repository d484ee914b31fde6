package cmd

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/practicelog/internal/audio"
	"github.com/audiolibrelab/practicelog/internal/config"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long:  `List all PipeWire/JACK ports that can be used as recorder sources. With a config, configured sources are marked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := audio.NewPipeWire().ListPorts()
		if err != nil {
			return fmt.Errorf("failed to get PipeWire sources: %w", err)
		}
		printSources(cmd.OutOrStdout(), ports, cfg)
		return nil
	},
}

// printSources lists ports and the configured sources that are missing.
// cfg may be nil.
func printSources(out io.Writer, ports []string, cfg *config.Config) {
	configured := map[string]string{}
	if cfg != nil {
		for _, ch := range cfg.Channels {
			for _, src := range ch.Sources {
				configured[src] = ch.Name
			}
		}
	}

	fmt.Fprintf(out, "🎵 Audio Sources (%s)\n", runtime.GOOS)
	fmt.Fprintf(out, "═══════════════════════════════════════\n\n")
	fmt.Fprintf(out, "📋 PIPEWIRE/JACK SOURCES (%d found):\n", len(ports))

	present := make(map[string]bool, len(ports))
	for i, port := range ports {
		present[port] = true
		if ch, ok := configured[port]; ok {
			fmt.Fprintf(out, "  %d. %s  ← %s\n", i+1, port, ch)
			continue
		}
		fmt.Fprintf(out, "  %d. %s\n", i+1, port)
	}

	if cfg != nil {
		for _, src := range cfg.CaptureSources() {
			if !present[src] {
				fmt.Fprintf(out, "\n⚠️  %s (channel %s) is configured but not available\n", src, configured[src])
			}
		}
	}

	fmt.Fprintf(out, "\n💡 PipeWire Usage:\n")
	fmt.Fprintf(out, "  • Format: \"Device: Audio (hw:X,Y):Z\" or \"Application:port\"\n")
	fmt.Fprintf(out, "  • Configure in definitions.channels[].sources: [\"system:capture_1\"]\n\n")
}
