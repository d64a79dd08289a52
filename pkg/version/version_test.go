package version

import "testing"

func TestDefaults(t *testing.T) {
	if Version != "dev" {
		t.Errorf("default Version = %q, want %q", Version, "dev")
	}
	if GitCommit != "unknown" {
		t.Errorf("default GitCommit = %q, want %q", GitCommit, "unknown")
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "cdoctl/dev" {
		t.Errorf("UserAgent() = %q, want %q", got, "cdoctl/dev")
	}
	if got := Info(); got != "dev (unknown) built unknown" {
		t.Errorf("Info() = %q", got)
	}
}
