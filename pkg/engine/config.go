package engine

import (
	"context"
	"strings"
)

// RunningConfig returns "show run [all] <extra>" output as lines.
func (r *Runner) RunningConfig(ctx context.Context, t Target, extra string, all bool) ([]string, error) {
	cmd := "show run"
	if all {
		cmd += " all"
	}
	if extra = strings.TrimSpace(extra); extra != "" {
		cmd += " " + extra
	}
	res, err := r.RunCommands(ctx, CommandRequest{Target: t, Commands: []string{cmd}})
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

// AccessList returns the running entries of the named ACL. A device answers
// a missing ACL with a single "ERROR:" line, which yields an empty list.
func (r *Runner) AccessList(ctx context.Context, t Target, name string) ([]string, error) {
	lines, err := r.RunningConfig(ctx, t, "access-list "+name, false)
	if err != nil {
		return nil, err
	}
	if len(lines) == 1 && strings.HasPrefix(lines[0], "ERROR:") {
		return nil, nil
	}
	return lines, nil
}
