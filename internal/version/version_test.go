package version

import "testing"

func TestString(t *testing.T) {
	oldVersion, oldCommit, oldDate := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = oldVersion, oldCommit, oldDate })

	Version, Commit, Date = "v1.2.3", "abc1234", "2025-01-02"
	if got, want := String(), "v1.2.3 (commit: abc1234, built: 2025-01-02)"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
