package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/practicelog/internal/apperrors"
	"github.com/audiolibrelab/practicelog/internal/service"
	"github.com/audiolibrelab/practicelog/internal/snapshot"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Resume or discard a session left by an unclean exit",
	Long: `Show the practice session that was running when practicelog last stopped
without saving, and resume it in the interactive prompt.

Time between the last snapshot and now is charged to the session unless it
was paused. Use --discard to delete it and its recorded takes instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		discard, _ := cmd.Flags().GetBool("discard")
		out := cmd.OutOrStdout()

		svc, err := service.New(cfg, cfgFile)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		engine := svc.Engine()
		snap, err := engine.RecoverablePreview()
		if errors.Is(err, apperrors.ErrNoSnapshot) {
			fmt.Fprintln(out, "Nothing to recover.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read snapshot: %w", err)
		}
		printRecoverable(out, snap, time.Now())

		if discard {
			if err := engine.DiscardRecovered(); err != nil {
				return fmt.Errorf("failed to discard session: %w", err)
			}
			fmt.Fprintln(out, "Session discarded.")
			return nil
		}

		recovered, err := engine.Reconcile()
		if err != nil {
			return fmt.Errorf("failed to recover session: %w", err)
		}
		if recovered == nil {
			fmt.Fprintln(out, "Nothing to recover.")
			return nil
		}
		fmt.Fprintf(out, "Resumed at %s with %d take(s).\n", formatElapsed(recovered.ElapsedSeconds), len(recovered.RecordingSegments))
		return runPractice(cmd.Context(), svc, os.Stdin, out)
	},
}

func printRecoverable(out io.Writer, snap snapshot.Snapshot, now time.Time) {
	title := snap.Title
	if title == "" {
		title = "(untitled)"
	}
	state := "running"
	if snap.IsPaused {
		state = "paused"
	}
	fmt.Fprintf(out, "Unfinished session %s\n", title)
	fmt.Fprintf(out, "  profile:  %s\n", snap.ProfileID)
	fmt.Fprintf(out, "  started:  %s\n", snap.StartedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(out, "  elapsed:  %s (%s when last saved %s ago)\n",
		formatElapsed(snap.ElapsedSeconds), state, now.Sub(snap.LastSavedAt).Round(time.Second))
	fmt.Fprintf(out, "  takes:    %d\n", len(snap.RecordingSegments))
}

func init() {
	recoverCmd.Flags().Bool("discard", false, "delete the unfinished session instead of resuming it")
}
