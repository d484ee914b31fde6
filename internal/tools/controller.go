package tools

import (
	"fmt"
	"sort"

	"github.com/audiolibrelab/practicelog/internal/apperrors"
)

// Tool is one of the practice aids coordinated during a session.
type Tool string

const (
	Recorder  Tool = "recorder"
	Metronome Tool = "metronome"
	Timer     Tool = "timer"
	Tuner     Tool = "tuner"
	Notes     Tool = "notes"
)

// NoSlot is reported for inactive and modal tools.
const NoSlot = -1

var allTools = []Tool{Recorder, Metronome, Timer, Tuner, Notes}

// ParseTool converts a tool name into a Tool.
func ParseTool(name string) (Tool, error) {
	for _, t := range allTools {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown tool %q", apperrors.ErrInvalidInput, name)
}

func (t Tool) modal() bool { return t == Tuner || t == Notes }

// suspendedByModal lists the tools a modal tool forces off, in the order
// they are shut down.
var suspendedByModal = []Tool{Recorder, Metronome}

type toolSet uint8

const (
	setRecorder toolSet = 1 << iota
	setMetronome
	setTimer
)

var setBits = map[Tool]toolSet{Recorder: setRecorder, Metronome: setMetronome, Timer: setTimer}

// slotTable assigns display slots, bottom (0) to top, for every
// combination of concurrently active tools. The recorder sits lowest,
// the metronome is never above the timer, and the timer always holds the
// highest used slot.
var slotTable = map[toolSet]map[Tool]int{
	0:                                     {},
	setRecorder:                           {Recorder: 0},
	setMetronome:                          {Metronome: 0},
	setTimer:                              {Timer: 0},
	setRecorder | setMetronome:            {Recorder: 0, Metronome: 1},
	setRecorder | setTimer:                {Recorder: 0, Timer: 1},
	setMetronome | setTimer:               {Metronome: 0, Timer: 1},
	setRecorder | setMetronome | setTimer: {Recorder: 0, Metronome: 1, Timer: 2},
}

// Transition describes the outcome of toggling a tool.
type Transition struct {
	Tool        Tool `json:"tool"`
	NowActive   bool `json:"now_active"`
	DisplaySlot int  `json:"display_slot"`
	// Deactivated lists tools forced off as a side effect, recorder first.
	Deactivated []Tool `json:"deactivated,omitempty"`
	// Stack is the resulting concurrent tool stack, bottom first.
	Stack []Tool `json:"stack"`
	// Modal is the open modal tool after the transition, if any.
	Modal Tool `json:"modal,omitempty"`
}

// Controller tracks which tools are active. It is not safe for
// concurrent use; the session engine serializes access.
type Controller struct {
	active map[Tool]bool
	ended  bool
}

func NewController() *Controller {
	return &Controller{active: make(map[Tool]bool)}
}

// Plan computes the transition toggling tool would cause without
// committing it.
func (c *Controller) Plan(tool Tool) (Transition, error) {
	if _, err := ParseTool(string(tool)); err != nil {
		return Transition{}, err
	}

	next := make(map[Tool]bool, len(c.active))
	for t, on := range c.active {
		if on {
			next[t] = true
		}
	}

	var deactivated []Tool
	if c.active[tool] {
		delete(next, tool)
	} else {
		if c.ended {
			return Transition{}, fmt.Errorf("%w: session has ended", apperrors.ErrInvalidState)
		}
		switch {
		case tool.modal():
			for _, t := range suspendedByModal {
				if next[t] {
					deactivated = append(deactivated, t)
					delete(next, t)
				}
			}
			if m, ok := c.Modal(); ok {
				deactivated = append(deactivated, m)
				delete(next, m)
			}
		case tool == Recorder || tool == Metronome:
			if m, ok := c.Modal(); ok {
				deactivated = append(deactivated, m)
				delete(next, m)
			}
		}
		next[tool] = true
	}

	stack := stackOf(next)
	tr := Transition{
		Tool:        tool,
		NowActive:   next[tool],
		DisplaySlot: NoSlot,
		Deactivated: deactivated,
		Stack:       stack,
		Modal:       modalOf(next),
	}
	if tr.NowActive && !tool.modal() {
		tr.DisplaySlot = slotTable[setOf(next)][tool]
	}
	return tr, nil
}

// Apply commits a transition returned by Plan.
func (c *Controller) Apply(tr Transition) {
	for _, t := range tr.Deactivated {
		delete(c.active, t)
	}
	if tr.NowActive {
		c.active[tr.Tool] = true
	} else {
		delete(c.active, tr.Tool)
	}
}

// Toggle plans and applies a transition in one step.
func (c *Controller) Toggle(tool Tool) (Transition, error) {
	tr, err := c.Plan(tool)
	if err != nil {
		return Transition{}, err
	}
	c.Apply(tr)
	return tr, nil
}

// Deactivate turns a tool off outside of a user toggle, for example when
// an interruption stops the recorder. It reports whether the tool was active.
func (c *Controller) Deactivate(tool Tool) bool {
	if !c.active[tool] {
		return false
	}
	delete(c.active, tool)
	return true
}

func (c *Controller) IsActive(tool Tool) bool { return c.active[tool] }

// Stack returns the concurrent tools in display order, bottom first.
func (c *Controller) Stack() []Tool { return stackOf(c.active) }

// Slot returns the display slot of tool, or NoSlot.
func (c *Controller) Slot(tool Tool) int {
	if !c.active[tool] || tool.modal() {
		return NoSlot
	}
	return slotTable[setOf(c.active)][tool]
}

// Modal returns the open modal tool, if any.
func (c *Controller) Modal() (Tool, bool) {
	m := modalOf(c.active)
	return m, m != ""
}

// End marks the session as ended; later activations are rejected.
func (c *Controller) End() {
	c.active = make(map[Tool]bool)
	c.ended = true
}

// Reset prepares the controller for a new session.
func (c *Controller) Reset() {
	c.active = make(map[Tool]bool)
	c.ended = false
}

func setOf(active map[Tool]bool) toolSet {
	var s toolSet
	for t, bit := range setBits {
		if active[t] {
			s |= bit
		}
	}
	return s
}

func stackOf(active map[Tool]bool) []Tool {
	slots := slotTable[setOf(active)]
	stack := make([]Tool, 0, len(slots))
	for t := range slots {
		stack = append(stack, t)
	}
	sort.Slice(stack, func(i, j int) bool { return slots[stack[i]] < slots[stack[j]] })
	return stack
}

func modalOf(active map[Tool]bool) Tool {
	for _, t := range []Tool{Tuner, Notes} {
		if active[t] {
			return t
		}
	}
	return ""
}
