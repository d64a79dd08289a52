package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/cdoctl/pkg/util"
)

// SectionAccessLists holds named ACLs rather than flat command lines.
const SectionAccessLists = "access-lists"

// SectionOrder is the order in which template sections are applied.
// Access lists go in before the access-groups that bind them.
var SectionOrder = []string{
	"global",
	"interfaces",
	"static_routes",
	"dns_server_groups",
	"dns_domain-lookup",
	"smart_license",
	"aaa",
	"http",
	"ssh",
	"logging",
	"network_objects",
	"service_objects",
	"ip-pools",
	SectionAccessLists,
	"access-groups",
	"users",
}

func knownSection(name string) bool {
	for _, s := range SectionOrder {
		if s == name {
			return true
		}
	}
	return false
}

// NamedACL is one access list of a template.
type NamedACL struct {
	Name    string
	Entries []string
}

// Template is a device configuration template. Sections maps every flat
// section to its command lines; AccessLists keeps the file's order.
type Template struct {
	Sections    map[string][]string
	AccessLists []NamedACL
}

// Has reports whether the template defines section.
func (t *Template) Has(section string) bool {
	if section == SectionAccessLists {
		return len(t.AccessLists) > 0
	}
	_, ok := t.Sections[section]
	return ok
}

// LoadTemplate reads a template file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}
	t, err := ParseTemplate(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseTemplate decodes a YAML template. The sections may sit at the top
// level or under a single "config" key.
func ParseTemplate(data []byte) (*Template, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}
	if len(doc.Content) == 0 {
		return &Template{Sections: map[string][]string{}}, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("template must be a mapping of sections")
	}
	if len(root.Content) == 2 && root.Content[0].Value == "config" {
		root = root.Content[1]
		if root.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("config must be a mapping of sections")
		}
	}

	t := &Template{Sections: map[string][]string{}}
	v := &util.ValidationBuilder{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		name, value := root.Content[i].Value, root.Content[i+1]
		if !knownSection(name) {
			v.AddErrorf("unknown section %q (line %d)", name, root.Content[i].Line)
			continue
		}
		if name == SectionAccessLists {
			acls, err := decodeAccessLists(value)
			if err != nil {
				v.AddErrorf("%s: %v", name, err)
				continue
			}
			t.AccessLists = acls
			continue
		}
		var lines []string
		if err := value.Decode(&lines); err != nil {
			v.AddErrorf("section %s must be a list of commands (line %d)", name, value.Line)
			continue
		}
		t.Sections[name] = lines
	}
	if err := v.Build(); err != nil {
		return nil, err
	}
	return t, nil
}

// decodeAccessLists walks the mapping node directly so the ACLs keep the
// order they were written in.
func decodeAccessLists(node *yaml.Node) ([]NamedACL, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("must map access-list names to entries (line %d)", node.Line)
	}
	var out []NamedACL
	for i := 0; i+1 < len(node.Content); i += 2 {
		acl := NamedACL{Name: node.Content[i].Value}
		if err := node.Content[i+1].Decode(&acl.Entries); err != nil {
			return nil, fmt.Errorf("access-list %s must be a list of entries (line %d)", acl.Name, node.Content[i+1].Line)
		}
		out = append(out, acl)
	}
	return out, nil
}
