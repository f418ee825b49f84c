package version

import "testing"

func TestString(t *testing.T) {
	orig := [3]string{Version, GitSHA, BuildTime}
	defer func() { Version, GitSHA, BuildTime = orig[0], orig[1], orig[2] }()

	Version, GitSHA, BuildTime = "0.4.0", "1a2b3c4", "2025-04-17T18:00:00Z"
	want := "capture-agent 0.4.0 (1a2b3c4, built 2025-04-17T18:00:00Z)"
	if got := String("capture-agent"); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
