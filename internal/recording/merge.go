package recording

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Merger concatenates segment files into one artifact.
type Merger interface {
	Merge(refs []string, outputPath string) error
}

// FFmpegMerger merges segments with ffmpeg's concat demuxer.
type FFmpegMerger struct {
	SampleRate int
	Codec      string
}

func (m FFmpegMerger) Merge(refs []string, outputPath string) error {
	if len(refs) == 0 {
		return fmt.Errorf("no segments to merge")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	list, err := os.CreateTemp("", "practicelog-concat-*.txt")
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(list.Name())
	if _, err := list.WriteString(concatList(refs)); err != nil {
		list.Close()
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	list.Close()

	os.Remove(outputPath)

	args := []string{"-f", "concat", "-safe", "0", "-i", list.Name()}
	if m.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(m.SampleRate))
	}
	if m.Codec != "" {
		args = append(args, "-c:a", m.Codec)
	}
	args = append(args, "-y", outputPath)

	cmd := exec.Command("ffmpeg", args...)
	slog.Debug("Running FFmpeg for merge", "command", strings.Join(cmd.Args, " "))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("FFmpeg merge failed: %w\nOutput: %s", err, string(output))
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("output file not created: %s", outputPath)
	}

	slog.Info("Merged recording saved to", "file", outputPath, "segments", len(refs))
	return nil
}

// concatList renders refs in the concat demuxer's list format.
func concatList(refs []string) string {
	var b strings.Builder
	for _, ref := range refs {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(ref, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9 ]`)

// ArtifactPath names the merged recording of a session.
func ArtifactPath(dir, title string, startedAt time.Time, format string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(unsafeChars.ReplaceAllString(title, "")), " ", "_")
	if cleaned == "" {
		cleaned = "session"
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s.%s", startedAt.Format("2006-01-02_1504"), cleaned, format))
}
