package command

import (
	"strings"

	"github.com/newtron-network/cdoctl/pkg/util"
)

// ReadOnlyVerbs are the commands CDO accepts on a device whose configuration
// is out of sync with CDO's record of it.
var ReadOnlyVerbs = []string{"show", "ping", "traceroute", "vpn-sessiondb", "changeto", "dir", "write", "copy"}

// AllowedOutOfSync reports whether cmd starts with one of the read-only verbs.
// Matching is a plain prefix test, so "shown" or "copyright" also pass.
func AllowedOutOfSync(cmd string) bool {
	for _, verb := range ReadOnlyVerbs {
		if strings.HasPrefix(cmd, verb) {
			return true
		}
	}
	return false
}

// CheckSyncGate decides whether cmds may run on a device. An in-sync device
// accepts anything; an out-of-sync device only accepts lists made entirely
// of read-only verbs. The returned *util.PolicyRejectedError is final and
// must not be retried.
func CheckSyncGate(device string, inSync bool, cmds []string) error {
	if inSync {
		return nil
	}
	for _, cmd := range cmds {
		if !AllowedOutOfSync(cmd) {
			return &util.PolicyRejectedError{
				Device:  device,
				Command: cmd,
				Allowed: ReadOnlyVerbs,
			}
		}
	}
	return nil
}
