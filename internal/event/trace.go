package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/samsaffron/term-agent/internal/llm"
	"github.com/samsaffron/term-agent/internal/transcript"
)

// Snapshot is the engine state captured at the end of a run.
type Snapshot struct {
	Provider   string            `json:"provider" cbor:"provider"`
	Model      string            `json:"model" cbor:"model"`
	ToolMethod string            `json:"tool_method" cbor:"tool_method"`
	Budget     int               `json:"budget" cbor:"budget"`
	State      string            `json:"state" cbor:"state"`
	Reason     string            `json:"reason,omitempty" cbor:"reason,omitempty"`
	Rounds     int               `json:"rounds" cbor:"rounds"`
	Usage      llm.Usage         `json:"usage" cbor:"usage"`
	Turns      []transcript.Turn `json:"turns" cbor:"turns"`
}

// Cost is the total memoized cost of the snapshot's turns.
func (s Snapshot) Cost() int {
	return transcript.TotalCost(s.Turns)
}

// Trace is a replayable record of one run: its event log and final state.
type Trace struct {
	Version int       `json:"version" cbor:"version"`
	RunID   string    `json:"run_id" cbor:"run_id"`
	Started time.Time `json:"started" cbor:"started"`
	Ended   time.Time `json:"ended" cbor:"ended"`
	Events  []Event   `json:"events" cbor:"events"`
	Final   Snapshot  `json:"final" cbor:"final"`
}

// Recorder collects a run's events from a bus into a Trace.
type Recorder struct {
	bus     *Bus
	runID   string
	started time.Time
}

// NewRecorder starts recording a run. An empty runID gets a fresh UUID.
func NewRecorder(bus *Bus, runID string) *Recorder {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Recorder{bus: bus, runID: runID, started: bus.now().UTC()}
}

// RunID returns the run identifier.
func (r *Recorder) RunID() string {
	return r.runID
}

// Trace assembles the trace from the bus log and the final snapshot.
func (r *Recorder) Trace(final Snapshot) Trace {
	final.Turns = transcript.Clone(final.Turns)
	return Trace{
		Version: TraceVersion,
		RunID:   r.runID,
		Started: r.started,
		Ended:   r.bus.now().UTC(),
		Events:  r.bus.Events(),
		Final:   final,
	}
}

// Seed returns the recorded turns renumbered from seq, ready to start a new
// conversation. System prompt and project context turns are skipped; the
// new run supplies fresh ones. A compaction summary is kept, since it stands
// in for the turns it replaced.
func Seed(t Trace, seq *transcript.Sequencer) []transcript.Turn {
	var out []transcript.Turn
	for _, turn := range transcript.Clone(t.Final.Turns) {
		if turn.Role == transcript.RoleSystem && turn.Pin != transcript.PinSummary || turn.Pin == transcript.PinProjectContext {
			continue
		}
		turn.Seq = seq.Next()
		out = append(out, turn)
	}
	return out
}

// Count returns how many events of each kind the trace holds.
func (t Trace) Count() map[Kind]int {
	counts := make(map[Kind]int)
	for _, ev := range t.Events {
		counts[ev.Kind()]++
	}
	return counts
}
