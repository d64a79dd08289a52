// Package command holds the line-oriented command model sent to devices:
// splitting command lists into request-sized batches and gating them on
// device sync state.
package command

import "strings"

// MaxBatchChars is the largest command payload the CLI executions API
// accepts in one request.
const MaxBatchChars = 600

// lineOverhead is the per-line cost counted against the ceiling for the
// separator inserted between lines.
const lineOverhead = 2

// Line is one textual device command. A line that starts with a space or tab
// is a sub-command of the nearest preceding top-level line, e.g.
// " network-object host 10.0.0.1" under "object-group network WEB".
type Line string

// IsSubCommand reports whether the line nests under a preceding top-level line.
func (l Line) IsSubCommand() bool {
	return strings.HasPrefix(string(l), " ") || strings.HasPrefix(string(l), "\t")
}

// Size is the number of characters the line costs in a batch.
func (l Line) Size() int {
	return len(l) + lineOverhead
}

// Lines converts plain strings into Lines.
func Lines(cmds []string) []Line {
	out := make([]Line, len(cmds))
	for i, c := range cmds {
		out[i] = Line(c)
	}
	return out
}

// Batch is an ordered group of lines submitted in one remote execution.
// Batches are not modified after Split returns them.
type Batch []Line

// Text joins the batch into the command payload.
func (b Batch) Text() string {
	parts := make([]string, len(b))
	for i, l := range b {
		parts[i] = string(l)
	}
	return strings.Join(parts, "\n")
}

// Size is the serialized size of the batch as counted against the ceiling.
func (b Batch) Size() int {
	n := 0
	for _, l := range b {
		n += l.Size()
	}
	return n
}

// Strings returns the batch lines as plain strings.
func (b Batch) Strings() []string {
	out := make([]string, len(b))
	for i, l := range b {
		out[i] = string(l)
	}
	return out
}

// Split partitions lines into batches whose size stays under ceiling, in a
// single greedy pass. When a split falls on a sub-command, the governing
// top-level line is repeated at the head of the new batch so the device has
// the right parent context. A single line larger than the ceiling gets a
// batch of its own and is not broken up.
//
// Only one level of nesting is tracked: the parent of a doubly nested line
// is re-emitted, its grandparent is not.
func Split(lines []Line, ceiling int) []Batch {
	var (
		batches  []Batch
		current  Batch
		length   int
		topLevel Line
		hasTop   bool
	)

	for _, line := range lines {
		sub := line.IsSubCommand()
		if !sub {
			topLevel = line
			hasTop = true
		}

		length += line.Size()
		if length <= ceiling-1 {
			current = append(current, line)
			continue
		}

		if len(current) > 0 {
			batches = append(batches, current)
		}
		current = nil
		length = 0
		// The pair may exceed the ceiling; it is the smallest unit that can be sent.
		if sub && hasTop {
			current = append(current, topLevel)
			length += topLevel.Size()
		}
		current = append(current, line)
		length += line.Size()
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// SplitStrings is Split for plain command strings at the API ceiling.
func SplitStrings(cmds []string) []Batch {
	return Split(Lines(cmds), MaxBatchChars)
}
