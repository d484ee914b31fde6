package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/practicelog/internal/apperrors"
	"github.com/audiolibrelab/practicelog/internal/service"
	"github.com/audiolibrelab/practicelog/internal/session"
	"github.com/audiolibrelab/practicelog/internal/timing"
	"github.com/audiolibrelab/practicelog/internal/tools"
)

var practiceCmd = &cobra.Command{
	Use:   "practice [title]",
	Short: "Start an interactive practice session",
	Long: `Start a practice session and control it from the terminal.

Type 'help' at the prompt for the list of commands. Ctrl+C leaves the
session recoverable; use 'practicelog recover' to pick it up again.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := ""
		if len(args) == 1 {
			title = args[0]
		}

		svc, err := service.New(cfg, cfgFile)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		engine := svc.Engine()
		if engine.HasRecoverableSession() {
			return fmt.Errorf("%w: an unfinished session exists, run 'practicelog recover' or 'practicelog recover --discard'", apperrors.ErrInvalidState)
		}
		if _, err := engine.Start(title); err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		return runPractice(cmd.Context(), svc, os.Stdin, cmd.OutOrStdout())
	},
}

// practiceControls is the part of the engine the prompt drives.
type practiceControls interface {
	Toggle(tool tools.Tool) (tools.Transition, error)
	Pause() (int, error)
	Resume() (int, error)
	SetNotes(notes string) error
	SetTitle(title string) error
	SetMood(mood int) error
	SetFocus(focus int) error
	PlayRecording() error
	PauseRecording() error
	SeekRecording(fraction float64) error
	Status() session.Status
	Save(ctx context.Context) (session.Session, error)
	Discard(confirmed bool) error
}

// runPractice runs the event loops and the prompt until the session is
// saved or discarded, input ends, or the process is interrupted.
func runPractice(ctx context.Context, svc *service.PracticeService, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc.Start(ctx)
	engine := svc.Engine()

	ticks := engine.SubscribeTicks(func(t timing.Tick) {
		if t.MinuteBoundary && t.Minutes > 0 {
			fmt.Fprintf(out, "\n⏱  %d min\n> ", t.Minutes)
		}
	})
	defer ticks.Cancel()

	fmt.Fprintln(out, statusLine(engine.Status()))
	fmt.Fprintln(out, "Type 'help' for commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nInterrupted, session kept for recovery.")
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(out, "\nInput closed, session kept for recovery.")
				return nil
			}
			done, err := handleCommand(ctx, engine, line, out)
			if err != nil {
				fmt.Fprintf(out, "✗ %s\n", describeError(err))
				slog.Debug("Command failed", "command", line, "error", err)
			}
			if done {
				return nil
			}
		}
	}
}

var toolAliases = map[string]tools.Tool{
	"r": tools.Recorder, "rec": tools.Recorder, "recorder": tools.Recorder,
	"m": tools.Metronome, "met": tools.Metronome, "metronome": tools.Metronome,
	"t": tools.Timer, "timer": tools.Timer,
	"u": tools.Tuner, "tuner": tools.Tuner,
	"n": tools.Notes, "notes": tools.Notes,
}

const helpText = `Commands:
  r, m, t, u, n        toggle recorder, metronome, timer, tuner, notes
  pause | resume       pause or resume the session clock
  title <text>         set the session title
  note <text>          replace the session notes
  mood <1-5>           rate your mood
  focus <1-5>          rate your focus
  play | stop          play back or pause the takes recorded so far
  seek <0-1>           jump to a position in the recorded takes
  status               show the session status
  save                 finish and save the session
  discard[!]           throw the session away ('discard!' confirms)
  quit                 leave, keeping the session recoverable`

// handleCommand runs one prompt line. done reports that the prompt should
// exit.
func handleCommand(ctx context.Context, e practiceControls, line string, out io.Writer) (done bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	word := strings.ToLower(fields[0])
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	if tool, ok := toolAliases[word]; ok && rest == "" {
		tr, err := e.Toggle(tool)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, describeTransition(tr))
		return false, nil
	}

	switch word {
	case "help", "?":
		fmt.Fprintln(out, helpText)
	case "pause", "p":
		if _, err := e.Pause(); err != nil {
			return false, err
		}
		fmt.Fprintln(out, statusLine(e.Status()))
	case "resume", "c":
		if _, err := e.Resume(); err != nil {
			return false, err
		}
		fmt.Fprintln(out, statusLine(e.Status()))
	case "title":
		return false, e.SetTitle(rest)
	case "note":
		return false, e.SetNotes(rest)
	case "mood", "focus":
		v, err := strconv.Atoi(rest)
		if err != nil {
			return false, fmt.Errorf("%w: %s needs a number from %d to %d", apperrors.ErrInvalidInput, word, session.MinRating, session.MaxRating)
		}
		if word == "mood" {
			return false, e.SetMood(v)
		}
		return false, e.SetFocus(v)
	case "play":
		return false, e.PlayRecording()
	case "stop":
		return false, e.PauseRecording()
	case "seek":
		v, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return false, fmt.Errorf("%w: seek needs a position between 0 and 1", apperrors.ErrInvalidInput)
		}
		return false, e.SeekRecording(v)
	case "status", "s":
		fmt.Fprintln(out, statusLine(e.Status()))
	case "save":
		saved, err := e.Save(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "✓ Saved %q: %s", saved.Title, formatElapsed(saved.ElapsedSeconds))
		if saved.RecordingPath != "" {
			fmt.Fprintf(out, ", recording at %s", saved.RecordingPath)
		}
		fmt.Fprintln(out)
		return true, nil
	case "discard", "discard!":
		if err := e.Discard(word == "discard!"); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "Session discarded.")
		return true, nil
	case "quit", "exit", "q":
		return true, nil
	default:
		return false, fmt.Errorf("%w: unknown command %q, type 'help'", apperrors.ErrInvalidInput, fields[0])
	}
	return false, nil
}

func describeTransition(tr tools.Transition) string {
	var b strings.Builder
	if tr.NowActive {
		fmt.Fprintf(&b, "▶ %s on", tr.Tool)
		if tr.DisplaySlot != tools.NoSlot {
			fmt.Fprintf(&b, " (slot %d)", tr.DisplaySlot)
		}
	} else {
		fmt.Fprintf(&b, "■ %s off", tr.Tool)
	}
	if len(tr.Deactivated) > 0 {
		names := make([]string, len(tr.Deactivated))
		for i, t := range tr.Deactivated {
			names[i] = string(t)
		}
		fmt.Fprintf(&b, ", stopped %s", strings.Join(names, ", "))
	}
	return b.String()
}

func statusLine(st session.Status) string {
	state := string(st.State)
	if st.State == session.StateActive && st.Paused {
		state = "paused"
	}
	line := fmt.Sprintf("[%s] %s", state, formatElapsed(st.ElapsedSeconds))
	if st.Title != "" {
		line += " " + strconv.Quote(st.Title)
	}
	if len(st.Stack) > 0 {
		names := make([]string, len(st.Stack))
		for i, t := range st.Stack {
			names[i] = string(t)
		}
		line += " tools: " + strings.Join(names, " < ")
	}
	if st.Modal != "" {
		line += " open: " + string(st.Modal)
	}
	if st.Segments > 0 {
		line += fmt.Sprintf(" takes: %d (%s)", st.Segments, formatElapsed(int(st.RecordedSecs)))
	}
	if st.LastNotice != "" {
		line += " · " + st.LastNotice
	}
	return line
}

func formatElapsed(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds/60%60, seconds%60)
}

func describeError(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrConfirmationRequired):
		return "this session has recordings or meaningful practice time, type 'discard!' to throw it away"
	case errors.Is(err, apperrors.ErrPersistence):
		return fmt.Sprintf("%v (the session is kept, try 'save' again)", err)
	default:
		return err.Error()
	}
}
