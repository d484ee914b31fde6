package interruption

import (
	"errors"
	"reflect"
	"testing"

	"github.com/audiolibrelab/practicelog/internal/audio"
	"github.com/audiolibrelab/practicelog/internal/tools"
)

type fakeTarget struct {
	recorder  bool
	sounding  []tools.Tool
	playing   bool
	log       []string
	resumeErr error
}

func (f *fakeTarget) RecorderActive() bool { return f.recorder }

func (f *fakeTarget) StopRecorder() error {
	f.recorder = false
	f.log = append(f.log, "stop recorder")
	return nil
}

func (f *fakeTarget) SoundingTools() []tools.Tool { return f.sounding }

func (f *fakeTarget) SuspendTool(tool tools.Tool) {
	f.log = append(f.log, "suspend "+string(tool))
	var rest []tools.Tool
	for _, t := range f.sounding {
		if t != tool {
			rest = append(rest, t)
		}
	}
	f.sounding = rest
}

func (f *fakeTarget) ResumeTool(tool tools.Tool) error {
	f.log = append(f.log, "resume "+string(tool))
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.sounding = append(f.sounding, tool)
	return nil
}

func (f *fakeTarget) PlaybackPlaying() bool { return f.playing }

func (f *fakeTarget) PausePlayback() {
	f.playing = false
	f.log = append(f.log, "pause playback")
}

func (f *fakeTarget) ResumePlayback() error {
	f.playing = true
	f.log = append(f.log, "resume playback")
	return nil
}

func TestInterruption_RecorderStoppedAndNotResumed(t *testing.T) {
	target := &fakeTarget{recorder: true}
	c := New(target)

	c.Handle(audio.InterruptionBegan())
	if target.recorder {
		t.Fatal("recorder must be stopped on interruption")
	}
	c.Handle(audio.InterruptionEnded(false))

	if target.recorder {
		t.Error("recorder must remain inactive")
	}
	if want := []string{"stop recorder"}; !reflect.DeepEqual(target.log, want) {
		t.Errorf("unexpected actions %v", target.log)
	}
}

func TestInterruption_ResumesInFIFOOrder(t *testing.T) {
	target := &fakeTarget{sounding: []tools.Tool{tools.Metronome, tools.Tuner}, playing: true}
	c := New(target)

	c.InterruptionBegan()
	if n, _ := c.Pending(); n != 3 {
		t.Fatalf("expected 3 queued actions, got %d", n)
	}
	c.InterruptionEnded(true)

	want := []string{
		"suspend metronome", "suspend tuner", "pause playback",
		"resume metronome", "resume tuner", "resume playback",
	}
	if !reflect.DeepEqual(target.log, want) {
		t.Errorf("got %v, want %v", target.log, want)
	}
	if n, _ := c.Pending(); n != 0 {
		t.Errorf("queue should be empty, got %d", n)
	}
}

func TestInterruption_EndedWithoutResumeClearsQueue(t *testing.T) {
	target := &fakeTarget{sounding: []tools.Tool{tools.Metronome}}
	c := New(target)

	c.InterruptionBegan()
	c.InterruptionEnded(false)
	c.InterruptionEnded(true)

	for _, entry := range target.log {
		if entry == "resume metronome" {
			t.Error("no resume action should run")
		}
	}
}

func TestInterruption_FailedResumeDoesNotStopQueue(t *testing.T) {
	target := &fakeTarget{sounding: []tools.Tool{tools.Metronome}, playing: true, resumeErr: errors.New("busy")}
	c := New(target)

	c.InterruptionBegan()
	c.InterruptionEnded(true)

	if !target.playing {
		t.Error("playback should resume after a failed tool resume")
	}
}

func TestRouteChange_PausesPlaybackOnce(t *testing.T) {
	target := &fakeTarget{playing: true}
	c := New(target)

	c.Handle(audio.RouteChanged(audio.RouteOldDeviceUnavailable))
	c.Handle(audio.RouteChanged(audio.RouteOldDeviceUnavailable))
	if _, route := c.Pending(); route != 1 {
		t.Fatalf("expected one route action, got %d", route)
	}

	c.Handle(audio.RouteChanged(audio.RouteNewDeviceAvailable))
	if !target.playing {
		t.Error("playback should resume when a device returns")
	}
	if want := []string{"pause playback", "resume playback"}; !reflect.DeepEqual(target.log, want) {
		t.Errorf("unexpected actions %v", target.log)
	}
}

func TestRouteChange_IgnoredWhenNotPlaying(t *testing.T) {
	target := &fakeTarget{}
	c := New(target)

	c.RouteChanged(audio.RouteOldDeviceUnavailable)
	if _, route := c.Pending(); route != 0 {
		t.Errorf("nothing should be queued, got %d", route)
	}
}

func TestQueuesAreMutuallyExclusive(t *testing.T) {
	target := &fakeTarget{playing: true}
	c := New(target)

	c.RouteChanged(audio.RouteOldDeviceUnavailable)
	target.sounding = []tools.Tool{tools.Metronome}
	c.InterruptionBegan()

	interruption, route := c.Pending()
	if route != 0 || interruption != 1 {
		t.Errorf("expected only the interruption queue, got %d/%d", interruption, route)
	}

	// Playback restarted by the user during the interruption is paused
	// but not claimed by the route queue.
	target.playing = true
	c.RouteChanged(audio.RouteOldDeviceUnavailable)
	if _, route := c.Pending(); route != 0 {
		t.Errorf("route queue must stay empty during an interruption, got %d", route)
	}
	if target.playing {
		t.Error("playback should be paused when the output device goes away")
	}
}
