package engine

import (
	"context"
	"fmt"

	"github.com/newtron-network/cdoctl/pkg/audit"
)

// TemplateRequest applies a template to one device. Sections restricts the
// run to the named sections; they are still applied in SectionOrder.
type TemplateRequest struct {
	Target
	Template *Template
	Sections []string

	SkipConverged bool
}

// SectionResult reports one applied section. ACL sections carry the full
// reconcile result.
type SectionResult struct {
	Section  string     `json:"section"`
	Commands []string   `json:"commands,omitempty"`
	Output   []string   `json:"output,omitempty"`
	Message  string     `json:"message,omitempty"`
	ACL      *ACLResult `json:"acl,omitempty"`
}

func (req TemplateRequest) sections() ([]string, error) {
	if len(req.Sections) == 0 {
		return SectionOrder, nil
	}
	want := make(map[string]bool, len(req.Sections))
	for _, s := range req.Sections {
		if !knownSection(s) {
			return nil, fmt.Errorf("unknown template section %q", s)
		}
		want[s] = true
	}
	var out []string
	for _, s := range SectionOrder {
		if want[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// ApplyTemplate applies the template section by section. Sections the
// template does not define are skipped. The first failing section stops
// the run; results of the sections applied before it are returned with the
// error.
func (r *Runner) ApplyTemplate(ctx context.Context, req TemplateRequest) ([]SectionResult, error) {
	if req.Template == nil {
		return nil, fmt.Errorf("no template given")
	}
	sections, err := req.sections()
	if err != nil {
		return nil, err
	}

	var results []SectionResult
	for _, section := range sections {
		if !req.Template.Has(section) {
			continue
		}
		r.log.WithField("device", req.Device).WithField("section", section).Info("applying template section")

		if section == SectionAccessLists {
			for _, named := range req.Template.AccessLists {
				res, err := r.ApplyAccessList(ctx, ACLRequest{
					Target:        req.Target,
					Name:          named.Name,
					Entries:       named.Entries,
					SkipConverged: req.SkipConverged,
				})
				sr := SectionResult{Section: SectionAccessLists + "/" + named.Name, ACL: res}
				if res != nil {
					sr.Commands, sr.Output, sr.Message = res.Commands, res.Output, res.Message
				}
				results = append(results, sr)
				if err != nil {
					return results, err
				}
			}
			continue
		}

		cmds := req.Template.Sections[section]
		if len(cmds) == 0 {
			continue
		}
		run, err := r.RunCommands(ctx, CommandRequest{
			Target:    req.Target,
			Commands:  cmds,
			Operation: audit.OpTemplateApply,
			Subject:   section,
		})
		results = append(results, SectionResult{
			Section:  section,
			Commands: cmds,
			Output:   run.Output,
			Message:  defaultMessage(run.Output, fmt.Sprintf(msgSectionFormat, section)),
		})
		if err != nil {
			results[len(results)-1].Message = ""
			return results, fmt.Errorf("applying section %s: %w", section, err)
		}
	}
	return results, nil
}
