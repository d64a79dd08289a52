package acl

import "fmt"

// StepKind says whether a plan step removes or adds an entry.
type StepKind string

const (
	StepRemove StepKind = "remove"
	StepAdd    StepKind = "add"
)

// Step is one command of a reconciliation plan.
type Step struct {
	Kind StepKind `json:"kind"`
	Line string   `json:"line"`
}

// Command renders the step as a device command.
func (s Step) Command() string {
	if s.Kind == StepRemove {
		return Negate(s.Line)
	}
	return s.Line
}

// Plan is the ordered command list turning a running ACL into the desired
// one. Removals sit immediately before the addition they make room for.
type Plan struct {
	Steps []Step `json:"steps"`
}

// Commands renders every step in order.
func (p Plan) Commands() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Command()
	}
	return out
}

// Removals returns the running entries the plan negates.
func (p Plan) Removals() []string {
	return p.lines(StepRemove)
}

// Additions returns the desired entries the plan adds.
func (p Plan) Additions() []string {
	return p.lines(StepAdd)
}

func (p Plan) lines(kind StepKind) []string {
	var out []string
	for _, s := range p.Steps {
		if s.Kind == kind {
			out = append(out, s.Line)
		}
	}
	return out
}

// IsEmpty returns true if the plan has no steps.
func (p Plan) IsEmpty() bool {
	return len(p.Steps) == 0
}

// String returns a human-readable summary.
func (p Plan) String() string {
	return fmt.Sprintf("%d removals, %d additions", len(p.Removals()), len(p.Additions()))
}

// Reconcile builds the plan for desired against running. Desired entries are
// visited in order; every running entry with the same normalized key is
// negated exactly as it appears on the device (line number included), then
// the desired entry is added. Entries with no running counterpart are pure
// additions. Running entries the template does not mention are left for
// Prune.
func Reconcile(desired, running []string) Plan {
	runningKeys := make([]string, len(running))
	for i, r := range running {
		runningKeys[i] = NormalizedKey(r)
	}

	var plan Plan
	for _, want := range desired {
		key := NormalizedKey(want)
		for i, r := range running {
			if runningKeys[i] == key {
				plan.Steps = append(plan.Steps, Step{Kind: StepRemove, Line: r})
			}
		}
		plan.Steps = append(plan.Steps, Step{Kind: StepAdd, Line: want})
	}
	return plan
}

// Prune returns removal commands for every entry of current past the first
// desiredLen entries. It assumes applying the plan left the template's
// entries at the head of the list and everything older behind them; a
// device that reorders or merges rules breaks that assumption and the
// result is wrong without any error.
func Prune(current []string, desiredLen int) []string {
	if desiredLen < 0 {
		desiredLen = 0
	}
	if desiredLen >= len(current) {
		return nil
	}
	out := make([]string, 0, len(current)-desiredLen)
	for _, line := range current[desiredLen:] {
		out = append(out, Negate(line))
	}
	return out
}

// Converged reports whether running already holds exactly the desired
// entries, in order, under normalized comparison.
func Converged(desired, running []string) bool {
	if len(desired) != len(running) {
		return false
	}
	for i := range desired {
		if !SameRule(desired[i], running[i]) {
			return false
		}
	}
	return true
}
