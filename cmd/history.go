package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/practicelog/internal/session"
	"github.com/audiolibrelab/practicelog/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved practice sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		// History only needs the database, not the audio stack.
		db, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("failed to open session history: %w", err)
		}
		defer db.Close()

		sessions, err := db.List(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sessions)
		}
		printHistory(cmd.OutOrStdout(), sessions, time.Now())
		return nil
	},
}

func printHistory(out io.Writer, sessions []session.Session, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No saved sessions yet.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tTITLE\tPROFILE\tTIME\tMOOD\tFOCUS\tTAKES\tRECORDING")
	var total int
	for _, s := range sessions {
		total += s.ElapsedSeconds
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			humanize.RelTime(s.StartedAt, now, "ago", "from now"),
			s.Title,
			s.ProfileID,
			formatElapsed(s.ElapsedSeconds),
			rating(s.Mood),
			rating(s.Focus),
			len(s.RecordingSegments),
			s.RecordingPath,
		)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%s sessions, %s practiced\n", humanize.Comma(int64(len(sessions))), formatElapsed(total))
}

func rating(v int) string {
	if v < session.MinRating {
		return "-"
	}
	return strings.Repeat("★", v)
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of sessions to show (0 for all)")
	historyCmd.Flags().Bool("json", false, "print sessions as JSON")
}
