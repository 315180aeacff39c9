//go:build !windows

package agent

import (
	"context"
	"strings"
	"testing"
)

func TestBuildArgs(t *testing.T) {
	cases := []struct {
		name string
		spec LaunchSpec
		want string
	}{
		{
			name: "fresh session",
			spec: LaunchSpec{Prompt: "hi"},
			want: "-p --verbose --output-format stream-json",
		},
		{
			name: "with model",
			spec: LaunchSpec{Prompt: "hi", Model: "opus"},
			want: "-p --verbose --output-format stream-json --model opus",
		},
		{
			name: "resumed",
			spec: LaunchSpec{Prompt: "hi", ResumeID: "S1"},
			want: "-p --verbose --output-format stream-json --resume S1",
		},
		{
			name: "model and resume",
			spec: LaunchSpec{Prompt: "hi", Model: "sonnet", ResumeID: "S1"},
			want: "-p --verbose --output-format stream-json --model sonnet --resume S1",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := strings.Join(buildArgs(tc.spec), " ")
			if got != tc.want {
				t.Fatalf("buildArgs = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildArgsPromptNeverInArgv(t *testing.T) {
	args := buildArgs(LaunchSpec{Prompt: "secret prompt text"})
	for _, arg := range args {
		if strings.Contains(arg, "secret") {
			t.Fatalf("prompt leaked into argv: %v", args)
		}
	}
}

func TestStripEnv(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin",
		"ANTHROPIC_API_KEY=sk-secret",
		"ANTHROPIC_API_KEY_BACKUP=keepme",
		"HOME=/home/u",
	}
	out := stripEnv(environ, "ANTHROPIC_API_KEY")

	joined := strings.Join(out, "\n")
	if strings.Contains(joined, "sk-secret") {
		t.Fatalf("credential survived strip: %v", out)
	}
	for _, keep := range []string{"PATH=/usr/bin", "ANTHROPIC_API_KEY_BACKUP=keepme", "HOME=/home/u"} {
		if !strings.Contains(joined, keep) {
			t.Fatalf("stripEnv removed unrelated variable %q: %v", keep, out)
		}
	}
}

func TestLaunchMissingBinary(t *testing.T) {
	launcher := NewCLILauncher("steward-no-such-binary-on-path")
	_, err := launcher.Launch(context.Background(), LaunchSpec{Prompt: "hi"})
	if err == nil {
		t.Fatal("Launch succeeded with a missing binary")
	}
	if !strings.Contains(err.Error(), "steward-no-such-binary-on-path") {
		t.Fatalf("err = %v, want the binary name for diagnosis", err)
	}
}
