package command

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

func TestLine_IsSubCommand(t *testing.T) {
	tests := []struct {
		line Line
		want bool
	}{
		{"object-group network WEB", false},
		{" network-object host 10.0.0.1", true},
		{"\tnetwork-object host 10.0.0.2", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := tt.line.IsSubCommand(); got != tt.want {
			t.Errorf("Line(%q).IsSubCommand() = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestSplit_SmallListIsOneBatch(t *testing.T) {
	cmds := []string{"show run", "show version", "ping 10.0.0.1"}
	got := SplitStrings(cmds)
	if len(got) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(got))
	}
	if diff := cmp.Diff(cmds, got[0].Strings()); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
	if got[0].Text() != "show run\nshow version\nping 10.0.0.1" {
		t.Errorf("Text() = %q", got[0].Text())
	}
}

func TestSplit_Empty(t *testing.T) {
	if got := SplitStrings(nil); len(got) != 0 {
		t.Errorf("expected no batches, got %v", got)
	}
}

func TestSplit_ReemitsParentForSubCommand(t *testing.T) {
	// Each line costs 20 chars; ceiling 60 fits two lines (40 <= 59) but not three (60 > 59).
	parent := Line("object-group net A")
	sub1 := Line(" network-object h1")
	sub2 := Line(" network-object h2")
	got := Split([]Line{parent, sub1, sub2}, 60)

	want := []Batch{
		{parent, sub1},
		{parent, sub2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
}

func TestSplit_TopLevelSplitHasNoParent(t *testing.T) {
	a := Line(strings.Repeat("a", 18))
	b := Line(strings.Repeat("b", 18))
	c := Line(strings.Repeat("c", 18))
	got := Split([]Line{a, b, c}, 60)

	want := []Batch{{a, b}, {c}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
}

func TestSplit_OversizedLineStandsAlone(t *testing.T) {
	long := Line("access-list BIG remark " + strings.Repeat("x", 700))
	got := SplitStrings([]string{"show run", string(long), "show version"})

	want := []Batch{{"show run"}, {long}, {"show version"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
}

func TestSplit_OversizedFirstLineDoesNotEmitEmptyBatch(t *testing.T) {
	long := Line(strings.Repeat("y", 650))
	got := SplitStrings([]string{string(long)})
	if len(got) != 1 || len(got[0]) != 1 {
		t.Fatalf("expected a single one-line batch, got %v", got)
	}
}

func TestSplit_ParentWithLongSubCommandMayExceedCeiling(t *testing.T) {
	// A sub-command is never sent without its parent, so the pair is the
	// smallest batch and is allowed past the ceiling like a single long line.
	parent := Line("object-group network WEB")
	sub := Line(" description " + strings.Repeat("z", 570))
	got := Split([]Line{parent, sub}, MaxBatchChars)

	want := []Batch{{parent}, {parent, sub}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("batches mismatch (-want +got):\n%s", diff)
	}
	if got[1].Size() <= MaxBatchChars {
		t.Errorf("expected the pair to overflow, size %d", got[1].Size())
	}
}

func TestSplit_RunningTotalCountsNewBatch(t *testing.T) {
	// After a split the new batch already holds parent+sub (40 chars); one
	// more 20-char line would reach 60 and must start another batch.
	parent := Line("object-group net A")
	subs := []Line{" network-object h1", " network-object h2", " network-object h3"}
	got := Split(append([]Line{parent}, subs...), 60)

	want := []Batch{
		{parent, subs[0]},
		{parent, subs[1]},
		{parent, subs[2]},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
}

// lineGen draws command lines, roughly a third of them sub-commands.
func lineGen() *rapid.Generator[Line] {
	return rapid.Custom(func(t *rapid.T) Line {
		body := rapid.StringMatching(`[a-z0-9][a-z0-9 .-]{0,120}`).Draw(t, "body")
		if rapid.IntRange(0, 2).Draw(t, "indent") == 0 {
			return Line(" " + body)
		}
		return Line(body)
	})
}

// reassemble walks batches against the original list and fails if anything
// other than a parent re-emission was inserted, dropped or reordered.
func reassemble(t *rapid.T, orig []Line, batches []Batch) {
	j := 0
	var lastTop Line
	haveTop := false
	for bi, b := range batches {
		for k, line := range b {
			if bi > 0 && k == 0 && (j >= len(orig) || line != orig[j]) {
				if j >= len(orig) || !orig[j].IsSubCommand() {
					t.Fatalf("batch %d starts with unexpected line %q", bi, line)
				}
				if !haveTop || line != lastTop {
					t.Fatalf("batch %d re-emits %q, nearest parent is %q", bi, line, lastTop)
				}
				continue
			}
			if j >= len(orig) || line != orig[j] {
				t.Fatalf("batch %d line %d = %q, want original line %d", bi, k, line, j)
			}
			if !line.IsSubCommand() {
				lastTop = line
				haveTop = true
			}
			j++
		}
	}
	if j != len(orig) {
		t.Fatalf("reassembled %d lines, want %d", j, len(orig))
	}
}

func TestSplit_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lines := rapid.SliceOf(lineGen()).Draw(t, "lines")
		ceiling := rapid.IntRange(40, MaxBatchChars).Draw(t, "ceiling")

		batches := Split(lines, ceiling)
		reassemble(t, lines, batches)

		for i, b := range batches {
			if len(b) == 0 {
				t.Fatalf("batch %d is empty", i)
			}
			if b.Size() < ceiling {
				continue
			}
			// Only a lone oversized line, or a parent re-emitted with one,
			// may reach the ceiling.
			lone := len(b) == 1
			withParent := len(b) == 2 && !b[0].IsSubCommand() && b[1].IsSubCommand()
			if !lone && !withParent {
				t.Fatalf("batch %d size %d reaches ceiling %d: %q", i, b.Size(), ceiling, b)
			}
		}
	})
}

func TestSplit_SizeBoundWithShortLines(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// Lines well under half the ceiling can never force an overflow,
		// even with a re-emitted parent.
		short := rapid.Custom(func(t *rapid.T) Line {
			body := rapid.StringMatching(`[a-z][a-z0-9 ]{0,100}`).Draw(t, "body")
			if rapid.Bool().Draw(t, "sub") {
				return Line(" " + body)
			}
			return Line(body)
		})
		lines := rapid.SliceOf(short).Draw(t, "lines")

		for i, b := range SplitStrings(stringsOf(lines)) {
			if b.Size() > MaxBatchChars {
				t.Fatalf("batch %d size %d > %d", i, b.Size(), MaxBatchChars)
			}
		}
	})
}

func stringsOf(lines []Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return out
}
