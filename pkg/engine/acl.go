package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/newtron-network/cdoctl/pkg/acl"
	"github.com/newtron-network/cdoctl/pkg/audit"
	"github.com/newtron-network/cdoctl/pkg/util"
)

// Messages reported when the device accepted commands silently.
const (
	msgACLApplied    = "ACL template(s) appear to have been applied successfully"
	msgACLPruned     = "ACL cleanup appears to have completed successfully"
	msgACLConverged  = "ACL already matches the template, nothing to do"
	msgSectionFormat = "%s config appears to have been added successfully"
)

// ACLRequest reconciles one named ACL on a device.
type ACLRequest struct {
	Target
	Name    string
	Entries []string

	// SkipConverged leaves the device untouched when the running ACL
	// already equals Entries under normalized comparison.
	SkipConverged bool
}

// Validate checks the request before anything is sent.
func (req ACLRequest) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(req.Device != "", "device is required")
	v.Add(req.Name != "", "access-list name is required")
	for i, e := range req.Entries {
		if strings.TrimSpace(e) == "" {
			v.AddErrorf("entry %d is blank", i+1)
		}
	}
	return v.Build()
}

// ACLResult describes one reconcile-and-prune cycle.
type ACLResult struct {
	Name        string   `json:"name"`
	Running     []string `json:"running"`
	Plan        acl.Plan `json:"plan"`
	Commands    []string `json:"commands"`
	Output      []string `json:"output"`
	Message     string   `json:"message,omitempty"`
	Pruned      []string `json:"pruned,omitempty"`
	PruneOutput []string `json:"prune_output,omitempty"`
	PruneMsg    string   `json:"prune_message,omitempty"`
	Converged   bool     `json:"converged"`
}

// PlanAccessList fetches the running ACL and returns the plan without
// submitting it.
func (r *Runner) PlanAccessList(ctx context.Context, req ACLRequest) (*ACLResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	running, err := r.AccessList(ctx, req.Target, req.Name)
	if err != nil {
		return nil, fmt.Errorf("reading access-list %s: %w", req.Name, err)
	}
	plan := acl.Reconcile(req.Entries, running)
	return &ACLResult{
		Name:      req.Name,
		Running:   running,
		Plan:      plan,
		Commands:  plan.Commands(),
		Converged: acl.Converged(req.Entries, running),
	}, nil
}

// ApplyAccessList reconciles the device ACL to req.Entries: the plan is run,
// the ACL is read back, and every entry past the template length is
// removed.
func (r *Runner) ApplyAccessList(ctx context.Context, req ACLRequest) (*ACLResult, error) {
	res, err := r.PlanAccessList(ctx, req)
	if err != nil {
		return nil, err
	}
	log := r.log.WithFields(map[string]interface{}{"device": req.Device, "acl": req.Name})

	if req.SkipConverged && res.Converged {
		log.Info("access-list already converged")
		res.Message = msgACLConverged
		return res, nil
	}

	log.WithField("plan", res.Plan.String()).Info("applying access-list")
	run, err := r.RunCommands(ctx, CommandRequest{
		Target:    req.Target,
		Commands:  res.Commands,
		Operation: audit.OpACLApply,
		Subject:   req.Name,
	})
	res.Output = run.Output
	if err != nil {
		return res, fmt.Errorf("applying access-list %s: %w", req.Name, err)
	}
	res.Message = defaultMessage(res.Output, msgACLApplied)

	current, err := r.AccessList(ctx, req.Target, req.Name)
	if err != nil {
		return res, fmt.Errorf("re-reading access-list %s: %w", req.Name, err)
	}
	res.Pruned = acl.Prune(current, len(req.Entries))
	if len(res.Pruned) == 0 {
		return res, nil
	}

	log.WithField("entries", len(res.Pruned)).Info("pruning stale access-list entries")
	prune, err := r.RunCommands(ctx, CommandRequest{
		Target:    req.Target,
		Commands:  res.Pruned,
		Operation: audit.OpACLPrune,
		Subject:   req.Name,
	})
	res.PruneOutput = prune.Output
	if err != nil {
		return res, fmt.Errorf("pruning access-list %s: %w", req.Name, err)
	}
	res.PruneMsg = defaultMessage(res.PruneOutput, msgACLPruned)
	return res, nil
}

func defaultMessage(output []string, msg string) string {
	if len(output) == 0 {
		return msg
	}
	return ""
}
