package session

import (
	"sync"
	"time"

	"github.com/fleetsense/fleetsense/agent"
	"github.com/fleetsense/fleetsense/memory"
	"github.com/fleetsense/fleetsense/report"
	"github.com/fleetsense/fleetsense/risk"
)

// Record is the serializable state of a session, as persisted by a
// Store. Runtime-only state (locks, compiled validators) lives outside
// the record.
type Record struct {
	ID         string                    `json:"id" bson:"_id"`
	Assessment risk.Assessment           `json:"assessment" bson:"assessment"`
	Phase      agent.Phase               `json:"phase" bson:"phase"`
	Attempts   int                       `json:"attempts" bson:"attempts"`
	Summary    string                    `json:"summary" bson:"summary"`
	Turns      []memory.Turn             `json:"turns" bson:"turns"`
	Report     *report.MaintenanceReport `json:"report,omitempty" bson:"report,omitempty"`
	Failure    *report.Failure           `json:"failure,omitempty" bson:"failure,omitempty"`
	CreatedAt  time.Time                 `json:"created_at" bson:"created_at"`
	LastActive time.Time                 `json:"last_active" bson:"last_active"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := *r
	out.Assessment = r.Assessment.Clone()
	out.Turns = append([]memory.Turn(nil), r.Turns...)
	if r.Report != nil {
		rep := r.Report.Clone()
		out.Report = &rep
	}
	if r.Failure != nil {
		f := *r.Failure
		out.Failure = &f
	}
	return &out
}

// Handle is the live, in-process view of a session. The embedded mutex
// is the session's single-writer lock: exactly one pipeline execution
// (or the reaper) holds it at a time.
type Handle struct {
	mu     sync.Mutex
	reaped bool

	Record *Record
	Memory *memory.SessionMemory
}

// Touch refreshes the idle clock.
func (h *Handle) Touch() {
	h.Record.LastActive = time.Now().UTC()
}

// snapshot copies the memory state into the record for persistence.
// Caller must hold the handle lock.
func (h *Handle) snapshot() *Record {
	h.Record.Summary, h.Record.Turns = h.Memory.Snapshot()
	return h.Record.Clone()
}
