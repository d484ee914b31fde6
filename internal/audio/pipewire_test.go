package audio

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/audiolibrelab/practicelog/internal/config"
)

func fakePipeWire(output string) *PipeWire {
	return &PipeWire{listCommand: func() ([]byte, error) { return []byte(output), nil }}
}

const portListing = `Output ports:
system:capture_1
system:capture_2
Chrome:output_FL
Input ports:
system:playback_1
`

func TestParsePortList(t *testing.T) {
	ports := parsePortList(portListing)
	if len(ports) != 4 {
		t.Fatalf("expected 4 ports, got %d: %v", len(ports), ports)
	}
	if ports[0] != "system:capture_1" || ports[3] != "system:playback_1" {
		t.Errorf("unexpected ports: %v", ports)
	}
}

func TestValidatePort_Success(t *testing.T) {
	if err := validatePortInList("system:capture_1", []string{"Chrome:output_FL", "system:capture_1"}); err != nil {
		t.Errorf("Expected no error for valid single port, got: %v", err)
	}
}

func TestValidatePort_NotFound(t *testing.T) {
	err := validatePortInList("nonexistent:port", []string{"Chrome:output_FL"})
	if err == nil || !strings.Contains(err.Error(), "port not found") {
		t.Errorf("Expected 'port not found' error, got: %v", err)
	}
}

func TestValidatePort_DuplicateDetection(t *testing.T) {
	ports := []string{
		"Chrome:output_FL",
		"Chrome:output_FL",
		"Chrome-2:output_FL",
	}
	err := validatePortInList("Chrome:output_FL", ports)
	if err == nil || !strings.Contains(err.Error(), "duplicate sources detected") {
		t.Errorf("Expected 'duplicate sources detected' error, got: %v", err)
	}
}

func TestValidatePort_EmptyAndDisabled(t *testing.T) {
	pw := fakePipeWire("")
	if err := pw.ValidatePort(""); err != nil {
		t.Errorf("Expected no error for empty string, got: %v", err)
	}
	if err := pw.ValidatePort("disabled"); err != nil {
		t.Errorf("Expected no error for disabled, got: %v", err)
	}
}

func TestPortsPresent(t *testing.T) {
	pw := fakePipeWire(portListing)
	present, err := pw.PortsPresent([]string{"system:capture_1", "usb:capture_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !present["system:capture_1"] || present["usb:capture_1"] {
		t.Errorf("unexpected presence map: %v", present)
	}
}

func TestIsEphemeralPort(t *testing.T) {
	if !isEphemeralPort("Firefox:output_FL") {
		t.Error("firefox ports should be ephemeral")
	}
	if isEphemeralPort("system:capture_1") {
		t.Error("system ports should not be ephemeral")
	}
}

func TestParseLoudness(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"[Parsed_ametadata_1 @ 0x55] lavfi.astats.Overall.RMS_level=-30.000000", 50, true},
		{"lavfi.astats.Overall.RMS_level=-75.2", 0, true},
		{"lavfi.astats.Overall.RMS_level=-inf", 0, true},
		{"lavfi.astats.Overall.RMS_level=0.5", 100, true},
		{"size=     256kB time=00:00:01.00", 0, false},
		{"lavfi.astats.Overall.RMS_level=garbage", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseLoudness(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseLoudness(%q) = %v, %v; want %v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBuildCaptureArgs_SingleChannel(t *testing.T) {
	cfg := config.Default()
	args := strings.Join(buildCaptureArgs(cfg, "/tmp/out.flac"), " ")

	for _, want := range []string{"pw-jack ffmpeg", "-f jack", "-i practicelog_mic", "-af astats", "-ar 48000", "-c:a flac", "/tmp/out.flac"} {
		if !strings.Contains(args, want) {
			t.Errorf("expected %q in args: %s", want, args)
		}
	}
	if strings.Contains(args, "amix") {
		t.Errorf("single channel should not mix: %s", args)
	}
}

func TestBuildCaptureArgs_MixesMultipleChannels(t *testing.T) {
	cfg := config.Default()
	cfg.Channels = append(cfg.Channels, config.Channel{Name: "guitar", Sources: []string{"usb:capture_1", "usb:capture_2"}, AudioMode: "stereo"})
	args := strings.Join(buildCaptureArgs(cfg, "/tmp/out.flac"), " ")

	if !strings.Contains(args, "[0:a][1:a]amix=inputs=2") {
		t.Errorf("expected amix over both inputs: %s", args)
	}
	if !strings.Contains(args, "-channels 2 -i practicelog_guitar") {
		t.Errorf("expected stereo guitar input: %s", args)
	}
}

func TestBuildCaptureArgs_WavUsesPCMEncoder(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Format = "wav"
	args := strings.Join(buildCaptureArgs(cfg, "/tmp/out.wav"), " ")

	if !strings.Contains(args, "-c:a pcm_s16le") {
		t.Errorf("expected pcm encoder for wav: %s", args)
	}
	if strings.Contains(args, "-c:a wav") {
		t.Errorf("container name passed as encoder: %s", args)
	}
}

func TestRouteEvents(t *testing.T) {
	up := routeState{captureUp: true, sinkUp: true}

	events := routeEvents(up, routeState{captureUp: false, sinkUp: true}, true)
	if len(events) != 1 || events[0].Kind != EventInterruptionBegan {
		t.Errorf("capture loss should begin an interruption, got %v", events)
	}

	events = routeEvents(routeState{captureUp: false, sinkUp: true}, up, true)
	if len(events) != 1 || events[0].Kind != EventInterruptionEnded || !events[0].ShouldResume {
		t.Errorf("capture return should end the interruption with resume, got %v", events)
	}

	events = routeEvents(up, routeState{captureUp: true}, true)
	if len(events) != 1 || events[0].Reason != RouteOldDeviceUnavailable {
		t.Errorf("sink loss should report old device unavailable, got %v", events)
	}

	if events := routeEvents(up, routeState{captureUp: true}, false); len(events) != 0 {
		t.Errorf("unwatched sink should not produce events, got %v", events)
	}
	if events := routeEvents(up, up, true); len(events) != 0 {
		t.Errorf("unchanged routes should not produce events, got %v", events)
	}
}

func TestLocate(t *testing.T) {
	durations := []time.Duration{5 * time.Second, 3 * time.Second}

	if i, off := locate(durations, 6*time.Second); i != 1 || off != time.Second {
		t.Errorf("expected segment 1 offset 1s, got %d %v", i, off)
	}
	if i, off := locate(durations, 0); i != 0 || off != 0 {
		t.Errorf("expected start of queue, got %d %v", i, off)
	}
	if i, _ := locate(durations, 20*time.Second); i != 2 {
		t.Errorf("expected end of queue, got %d", i)
	}
}

func TestFFPlayQueue_PositionAndSeek(t *testing.T) {
	fake := clockwork.NewFakeClock()
	q := NewFFPlayQueue(fake)
	q.probe = func(file string) (time.Duration, error) {
		if file == "a.flac" {
			return 5 * time.Second, nil
		}
		return 3 * time.Second, nil
	}

	q.Enqueue([]string{"a.flac", "b.flac"})
	q.Seek(6500 * time.Millisecond)

	if got := q.CurrentPosition(); got != 6500*time.Millisecond {
		t.Errorf("expected position 6.5s, got %v", got)
	}
	if q.IsPlaying() {
		t.Error("seek on a paused queue should not start playback")
	}

	q.Enqueue([]string{"a.flac"})
	if got := q.CurrentPosition(); got != 0 {
		t.Errorf("enqueue should reset position, got %v", got)
	}
}

func TestFFPlayQueue_PlayEmptyFails(t *testing.T) {
	q := NewFFPlayQueue(clockwork.NewFakeClock())
	if err := q.Play(); err == nil {
		t.Error("expected error playing an empty queue")
	}
}
