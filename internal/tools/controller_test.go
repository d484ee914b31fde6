package tools

import (
	"errors"
	"reflect"
	"testing"

	"github.com/audiolibrelab/practicelog/internal/apperrors"
)

func TestSlotTable_Invariants(t *testing.T) {
	for set, slots := range slotTable {
		highest := -1
		for _, s := range slots {
			if s > highest {
				highest = s
			}
		}
		if len(slots) != popcount(set) {
			t.Errorf("set %03b: expected %d slots, got %d", set, popcount(set), len(slots))
		}
		if s, ok := slots[Recorder]; ok && s != 0 {
			t.Errorf("set %03b: recorder must be in slot 0, got %d", set, s)
		}
		if s, ok := slots[Timer]; ok && s != highest {
			t.Errorf("set %03b: timer must hold the highest slot, got %d of %d", set, s, highest)
		}
		if m, ok := slots[Metronome]; ok {
			if tm, ok := slots[Timer]; ok && m > tm {
				t.Errorf("set %03b: metronome above timer", set)
			}
		}
	}
}

func popcount(s toolSet) int {
	n := 0
	for ; s != 0; s &= s - 1 {
		n++
	}
	return n
}

func TestToggle_SlotAssignment(t *testing.T) {
	tests := []struct {
		name     string
		sequence []Tool
		want     map[Tool]int
	}{
		{"recorder alone", []Tool{Recorder}, map[Tool]int{Recorder: 0}},
		{"metronome alone", []Tool{Metronome}, map[Tool]int{Metronome: 0}},
		{"timer then metronome", []Tool{Timer, Metronome}, map[Tool]int{Metronome: 0, Timer: 1}},
		{"metronome then timer", []Tool{Metronome, Timer}, map[Tool]int{Metronome: 0, Timer: 1}},
		{"recorder and metronome", []Tool{Metronome, Recorder}, map[Tool]int{Recorder: 0, Metronome: 1}},
		{"all three", []Tool{Timer, Metronome, Recorder}, map[Tool]int{Recorder: 0, Metronome: 1, Timer: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController()
			var last Transition
			for _, tool := range tt.sequence {
				tr, err := c.Toggle(tool)
				if err != nil {
					t.Fatalf("Toggle(%s): %v", tool, err)
				}
				last = tr
			}
			for tool, slot := range tt.want {
				if got := c.Slot(tool); got != slot {
					t.Errorf("%s: expected slot %d, got %d", tool, slot, got)
				}
			}
			if want := tt.want[last.Tool]; last.DisplaySlot != want {
				t.Errorf("last transition slot %d, want %d", last.DisplaySlot, want)
			}
		})
	}
}

func TestToggle_DeactivateReturnsNoSlot(t *testing.T) {
	c := NewController()
	c.Toggle(Recorder)
	c.Toggle(Timer)

	tr, err := c.Toggle(Recorder)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if tr.NowActive || tr.DisplaySlot != NoSlot {
		t.Errorf("expected inactive with no slot, got %+v", tr)
	}
	if c.Slot(Timer) != 0 {
		t.Errorf("timer should drop to slot 0, got %d", c.Slot(Timer))
	}
}

func TestToggle_TunerSuspendsMetronomeAndRecorder(t *testing.T) {
	c := NewController()
	c.Toggle(Metronome)
	c.Toggle(Recorder)
	c.Toggle(Timer)

	tr, err := c.Toggle(Tuner)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if !tr.NowActive || !c.IsActive(Tuner) {
		t.Error("tuner should be active")
	}
	if !reflect.DeepEqual(tr.Deactivated, []Tool{Recorder, Metronome}) {
		t.Errorf("expected recorder then metronome deactivated, got %v", tr.Deactivated)
	}
	if c.IsActive(Metronome) || c.IsActive(Recorder) {
		t.Error("metronome and recorder must be inactive")
	}
	if !c.IsActive(Timer) {
		t.Error("timer is not suspended by modal tools")
	}
}

func TestToggle_OnlyOneModal(t *testing.T) {
	c := NewController()
	c.Toggle(Tuner)
	tr, _ := c.Toggle(Notes)

	if !reflect.DeepEqual(tr.Deactivated, []Tool{Tuner}) {
		t.Errorf("expected tuner closed, got %v", tr.Deactivated)
	}
	if m, _ := c.Modal(); m != Notes {
		t.Errorf("expected notes modal, got %q", m)
	}
}

func TestToggle_RecorderClosesModal(t *testing.T) {
	c := NewController()
	c.Toggle(Notes)
	tr, _ := c.Toggle(Recorder)

	if !reflect.DeepEqual(tr.Deactivated, []Tool{Notes}) {
		t.Errorf("expected notes closed, got %v", tr.Deactivated)
	}
	if _, open := c.Modal(); open {
		t.Error("no modal should remain open")
	}
}

func TestPlan_DoesNotCommit(t *testing.T) {
	c := NewController()
	c.Toggle(Recorder)

	tr, err := c.Plan(Tuner)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(tr.Deactivated) != 1 || !c.IsActive(Recorder) || c.IsActive(Tuner) {
		t.Errorf("plan must not change state: %+v", tr)
	}
}

func TestToggle_RejectedAfterEnd(t *testing.T) {
	c := NewController()
	c.End()

	if _, err := c.Toggle(Metronome); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	c.Reset()
	if _, err := c.Toggle(Metronome); err != nil {
		t.Errorf("expected toggle after reset to succeed, got %v", err)
	}
}

func TestStack_Order(t *testing.T) {
	c := NewController()
	c.Toggle(Timer)
	c.Toggle(Recorder)
	c.Toggle(Metronome)

	if got := c.Stack(); !reflect.DeepEqual(got, []Tool{Recorder, Metronome, Timer}) {
		t.Errorf("unexpected stack %v", got)
	}
}

func TestParseTool(t *testing.T) {
	if tool, err := ParseTool("metronome"); err != nil || tool != Metronome {
		t.Errorf("ParseTool(metronome) = %q, %v", tool, err)
	}
	if _, err := ParseTool("drum"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
