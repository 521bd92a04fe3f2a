package fleet

import (
	"errors"
	"testing"
)

func TestBuild(t *testing.T) {
	templates, err := NewTemplates(map[string]string{
		"m":     "run {id} {target} {duration}",
		"TWICE": "{id}:{id} {duration}",
		"ECHO":  "echo {target}",
	}, "", "")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		method   string
		id       string
		target   string
		duration uint
		expected string
	}{
		{"M", "42", "http://x", 10, "run 42 http://x 10"},
		{"m", "42", "http://x", 10, "run 42 http://x 10"},
		{"twice", "a", "", 0, "a:a 0"},
		{"ECHO", "1", "http://{id}.example.com", 5, "echo http://{id}.example.com"},
	}
	for _, test := range tests {
		command, err := templates.Build(test.method, test.id, test.target, test.duration)
		if err != nil {
			t.Fatalf("building %s: %v", test.method, err)
		}
		if command != test.expected {
			t.Errorf("expected %q, got %q", test.expected, command)
		}
	}
}

func TestBuildUnknownMethod(t *testing.T) {
	templates, err := NewTemplates(map[string]string{"M": "run"}, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err = templates.Build("OTHER", "1", "http://x", 1); !errors.Is(err, ErrorUnknownMethod) {
		t.Fatalf("expected unknown method error, got %v", err)
	}
	if templates.Has("other") {
		t.Fatal("expected method OTHER to be missing")
	}
}

func TestStopCommands(t *testing.T) {
	templates, err := NewTemplates(nil, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if command := templates.StopCommand("abc"); command != "pkill -f job_abc" {
		t.Errorf("unexpected stop command %q", command)
	}
	if command := templates.StopAllCommand(); command != DefaultStopAllCommand {
		t.Errorf("unexpected stop all command %q", command)
	}

	if _, err = NewTemplates(nil, "pkill -f job_", ""); err == nil {
		t.Fatal("expected stop command without id to be rejected")
	}
}
