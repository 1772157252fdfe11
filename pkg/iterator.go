package pkg

import (
	"sync"

	"github.com/AlexanderGrooff/drover/pkg/common"
)

// RunState tracks which phase of the play a host is iterating.
type RunState int

const (
	StateSetup RunState = iota
	StateTasks
	StateRescue
	StateAlways
	StateComplete
)

func (s RunState) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateTasks:
		return "tasks"
	case StateRescue:
		return "rescue"
	case StateAlways:
		return "always"
	case StateComplete:
		return "complete"
	}
	return "unknown"
}

// FailState is a bitmask recording which phases a host has failed in. A
// rescue section that runs to completion resets it to FailedNone.
type FailState int

const (
	FailedNone   FailState = 0
	FailedSetup  FailState = 1
	FailedTasks  FailState = 2
	FailedRescue FailState = 4
	FailedAlways FailState = 8
)

type blockSection int

const (
	sectionBlock blockSection = iota
	sectionRescue
	sectionAlways
)

func (s blockSection) runState() RunState {
	switch s {
	case sectionRescue:
		return StateRescue
	case sectionAlways:
		return StateAlways
	}
	return StateTasks
}

// blockFrame is one level of the iteration stack: a section of a block and
// the position within it. The root frame iterates the play's top-level
// blocks and has no block of its own.
type blockFrame struct {
	block   *Block
	section blockSection
	entries []BlockEntry
	pos     int
}

type hostState struct {
	runState     RunState
	failState    FailState
	stack        []*blockFrame
	pendingSetup bool
	didRescue    bool
}

func (s *hostState) clone() *hostState {
	cloned := &hostState{
		runState:     s.runState,
		failState:    s.failState,
		pendingSetup: s.pendingSetup,
		didRescue:    s.didRescue,
		stack:        make([]*blockFrame, len(s.stack)),
	}
	for i, frame := range s.stack {
		frameCopy := *frame
		cloned.stack[i] = &frameCopy
	}
	return cloned
}

// PlayIterator hands out tasks per host, walking blocks depth-first and
// redirecting into rescue and always sections on failure. Hosts advance
// independently; the strategy decides how far they may drift apart.
type PlayIterator struct {
	mu     sync.Mutex
	play   *Play
	hosts  []*Host
	states map[string]*hostState
}

func NewPlayIterator(play *Play, hosts []*Host) *PlayIterator {
	it := &PlayIterator{
		play:   play,
		hosts:  hosts,
		states: make(map[string]*hostState, len(hosts)),
	}
	rootEntries := make([]BlockEntry, len(play.Tasks))
	for i, block := range play.Tasks {
		rootEntries[i] = block
	}
	for _, host := range hosts {
		state := &hostState{
			runState: StateTasks,
			stack:    []*blockFrame{{entries: rootEntries}},
		}
		if play.SetupTask != nil {
			state.runState = StateSetup
		}
		it.states[host.Name] = state
	}
	return it
}

// Hosts returns the play's hosts in play order.
func (it *PlayIterator) Hosts() []*Host {
	return it.hosts
}

// NextTaskForHost advances the host's iterator and returns its next task,
// or nil once the host has completed the play.
func (it *PlayIterator) NextTaskForHost(hostName string) *Task {
	it.mu.Lock()
	defer it.mu.Unlock()
	state, ok := it.states[hostName]
	if !ok {
		return nil
	}
	return it.next(state)
}

// PeekNextTaskForHost returns the host's next task without advancing.
func (it *PlayIterator) PeekNextTaskForHost(hostName string) *Task {
	task, _ := it.PeekWithPosition(hostName)
	return task
}

// PeekWithPosition returns the host's next task and its position vector for
// ordering hosts against each other. The vector lists (section, index)
// pairs from the root down to the task; the synthetic setup task sorts
// before everything.
func (it *PlayIterator) PeekWithPosition(hostName string) (*Task, []int) {
	it.mu.Lock()
	defer it.mu.Unlock()
	state, ok := it.states[hostName]
	if !ok {
		return nil, nil
	}
	cloned := state.clone()
	task := it.next(cloned)
	if task == nil {
		return nil, nil
	}
	if task == it.play.SetupTask {
		return task, []int{-1}
	}
	vector := make([]int, 0, len(cloned.stack)*2)
	for _, frame := range cloned.stack {
		vector = append(vector, int(frame.section), frame.pos-1)
	}
	return task, vector
}

func (it *PlayIterator) next(state *hostState) *Task {
	for {
		switch state.runState {
		case StateSetup:
			if !state.pendingSetup {
				state.pendingSetup = true
				return it.play.SetupTask
			}
			state.pendingSetup = false
			state.runState = StateTasks

		case StateTasks, StateRescue, StateAlways:
			if len(state.stack) == 0 {
				state.runState = StateComplete
				continue
			}
			frame := state.stack[len(state.stack)-1]
			if frame.pos >= len(frame.entries) {
				state.finishSection(frame)
				continue
			}
			entry := frame.entries[frame.pos]
			frame.pos++
			switch node := entry.(type) {
			case *Block:
				state.stack = append(state.stack, &blockFrame{
					block:   node,
					entries: node.Block,
				})
			case *Task:
				state.runState = frame.section.runState()
				return node
			}

		case StateComplete:
			return nil
		}
	}
}

// finishSection handles a frame whose current section is exhausted.
func (s *hostState) finishSection(frame *blockFrame) {
	switch frame.section {
	case sectionBlock:
		if frame.block != nil && frame.block.HasAlways() {
			frame.enterSection(sectionAlways)
			return
		}
		s.popFrame()
	case sectionRescue:
		// The rescue ran to completion, the failure is handled.
		s.failState = FailedNone
		s.didRescue = true
		if frame.block.HasAlways() {
			frame.enterSection(sectionAlways)
			return
		}
		s.popFrame()
	case sectionAlways:
		s.popFrame()
		if s.failState != FailedNone {
			// Still failed after the always drain, keep unwinding.
			s.redirectFailure()
		}
	}
}

func (f *blockFrame) enterSection(section blockSection) {
	f.section = section
	f.pos = 0
	switch section {
	case sectionRescue:
		f.entries = f.block.Rescue
	case sectionAlways:
		f.entries = f.block.Always
	}
}

func (s *hostState) popFrame() {
	s.stack = s.stack[:len(s.stack)-1]
}

// redirectFailure unwinds the stack towards the nearest rescue, running
// always sections of everything it leaves behind.
func (s *hostState) redirectFailure() {
	for len(s.stack) > 0 {
		frame := s.stack[len(s.stack)-1]
		if frame.block != nil && frame.section == sectionBlock && frame.block.HasRescue() {
			frame.enterSection(sectionRescue)
			s.runState = StateRescue
			return
		}
		if frame.block != nil && frame.section != sectionAlways && frame.block.HasAlways() {
			frame.enterSection(sectionAlways)
			s.runState = StateAlways
			return
		}
		s.popFrame()
	}
	s.runState = StateComplete
}

// MarkHostFailed records a failure for the host's current phase and
// redirects its iterator into rescue or always handling.
func (it *PlayIterator) MarkHostFailed(hostName string) {
	it.mu.Lock()
	defer it.mu.Unlock()
	state, ok := it.states[hostName]
	if !ok || state.runState == StateComplete {
		common.DebugOutput("Ignoring failure mark for host %q in state complete", hostName)
		return
	}
	switch state.runState {
	case StateSetup:
		state.failState |= FailedSetup
		state.runState = StateComplete
	case StateTasks:
		state.failState |= FailedTasks
		state.redirectFailure()
	case StateRescue:
		state.failState |= FailedRescue
		state.redirectFailure()
	case StateAlways:
		state.failState |= FailedAlways
		state.redirectFailure()
	}
}

// IsFailed reports whether the host currently carries any failure. A host
// being rescued still counts as failed until its rescue completes.
func (it *PlayIterator) IsFailed(hostName string) bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	state, ok := it.states[hostName]
	return ok && state.failState != FailedNone
}

// RunStateFor returns the host's current phase.
func (it *PlayIterator) RunStateFor(hostName string) RunState {
	it.mu.Lock()
	defer it.mu.Unlock()
	state, ok := it.states[hostName]
	if !ok {
		return StateComplete
	}
	return state.runState
}

// FailStateFor returns the host's failure bitmask.
func (it *PlayIterator) FailStateFor(hostName string) FailState {
	it.mu.Lock()
	defer it.mu.Unlock()
	state, ok := it.states[hostName]
	if !ok {
		return FailedNone
	}
	return state.failState
}

// DidRescue reports whether the host recovered from a failure through a
// rescue section at any point.
func (it *PlayIterator) DidRescue(hostName string) bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	state, ok := it.states[hostName]
	return ok && state.didRescue
}

// ClearHostErrors resets the host's failure bitmask. A host that already
// completed stays complete.
func (it *PlayIterator) ClearHostErrors(hostName string) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if state, ok := it.states[hostName]; ok {
		state.failState = FailedNone
	}
}

// EndHost finishes the play for one host immediately.
func (it *PlayIterator) EndHost(hostName string) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if state, ok := it.states[hostName]; ok {
		state.runState = StateComplete
	}
}

// EndPlay finishes the play for every host.
func (it *PlayIterator) EndPlay() {
	it.mu.Lock()
	defer it.mu.Unlock()
	for _, state := range it.states {
		state.runState = StateComplete
	}
}

// AllComplete reports whether every host has finished the play.
func (it *PlayIterator) AllComplete() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	for _, state := range it.states {
		if state.runState != StateComplete {
			return false
		}
	}
	return true
}

// RemainingHosts returns hosts that have not completed, in play order.
func (it *PlayIterator) RemainingHosts() []*Host {
	it.mu.Lock()
	defer it.mu.Unlock()
	var remaining []*Host
	for _, host := range it.hosts {
		if state, ok := it.states[host.Name]; ok && state.runState != StateComplete {
			remaining = append(remaining, host)
		}
	}
	return remaining
}

// ComparePositions orders two position vectors lexicographically. Negative
// means a comes first.
func ComparePositions(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}
