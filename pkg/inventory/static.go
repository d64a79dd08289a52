package inventory

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/cdoctl/pkg/util"
)

// StaticDevice is a device entry in an inventory file. Host and Port are
// only used by the SSH executor.
type StaticDevice struct {
	Device `yaml:",inline"`
	Host   string `yaml:"host,omitempty"`
	Port   int    `yaml:"port,omitempty"`
}

// StaticFile is the on-disk layout of an inventory file:
//
//	devices:
//	  - name: asa-lab-1
//	    uid: asa-lab-1
//	    device_type: asa
//	    host: 192.0.2.10
//	    config_state: SYNCED
type StaticFile struct {
	Devices []StaticDevice `yaml:"devices"`
}

// StaticDirectory is a Directory backed by a YAML file. The file is read on
// every lookup so edits to sync state take effect immediately.
type StaticDirectory struct {
	path string
}

// NewStaticDirectory returns a directory reading path.
func NewStaticDirectory(path string) *StaticDirectory {
	return &StaticDirectory{path: path}
}

// Load reads and validates the inventory file.
func (s *StaticDirectory) Load() (*StaticFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	return ParseStatic(data)
}

// ParseStatic decodes and validates inventory YAML.
func ParseStatic(data []byte) (*StaticFile, error) {
	var f StaticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}

	v := &util.ValidationBuilder{}
	seen := make(map[string]bool)
	for i := range f.Devices {
		d := &f.Devices[i]
		if d.UID == "" {
			d.UID = d.Name
		}
		if d.ConfigState == "" {
			d.ConfigState = ConfigStateSynced
		}
		v.Add(d.Name != "", fmt.Sprintf("devices[%d]: name is required", i))
		if seen[d.UID] {
			v.AddErrorf("devices[%d]: duplicate uid %q", i, d.UID)
		}
		seen[d.UID] = true
	}
	if err := v.Build(); err != nil {
		return nil, err
	}
	return &f, nil
}

// FindDevices implements Directory.
func (s *StaticDirectory) FindDevices(ctx context.Context, filter Filter) ([]Device, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	var out []Device
	for _, d := range f.Devices {
		if filter.Matches(d.Device) {
			out = append(out, d.Device)
		}
	}
	return out, nil
}

// Endpoint returns the SSH address of the device with the given uid.
func (s *StaticDirectory) Endpoint(uid string) (string, error) {
	f, err := s.Load()
	if err != nil {
		return "", err
	}
	for _, d := range f.Devices {
		if d.UID != uid {
			continue
		}
		host := d.Host
		if host == "" {
			host = d.IPv4
		}
		if host == "" {
			return "", fmt.Errorf("device %s has no host or ipv4 in inventory", d.Name)
		}
		port := d.Port
		if port == 0 {
			port = 22
		}
		return net.JoinHostPort(host, strconv.Itoa(port)), nil
	}
	return "", util.NewLookupError(uid, 0)
}
