package config

import (
	"strings"
	"testing"
	"time"
)

const fleetFile = `
socket_token: secret
max_jobs: 2
dispatch_timeout: 3s
ack_mode: status
workers:
  srv1:
    ip: 10.0.0.1
    port: 4000
  srv2:
    ip: worker-2.internal
    port: 4001
    capacity: 5
commands:
  http-get: "run-job --tag job_{id} --url {target} --seconds {duration}"
stop_command: "pkill -f job_{id}"
`

func TestParse(t *testing.T) {
	f, err := Parse(strings.NewReader(fleetFile))
	if err != nil {
		t.Fatal(err)
	}
	if f.DispatchTimeout != 3*time.Second {
		t.Errorf("unexpected dispatch timeout %s", f.DispatchTimeout)
	}

	registry, err := f.Registry()
	if err != nil {
		t.Fatal(err)
	}
	srv1, err := registry.Lookup("srv1")
	if err != nil {
		t.Fatal(err)
	}
	if srv1.Capacity != 2 || srv1.HostPort() != "10.0.0.1:4000" {
		t.Errorf("unexpected worker %+v", srv1)
	}
	srv2, _ := registry.Lookup("srv2")
	if srv2.Capacity != 5 {
		t.Errorf("expected explicit capacity 5, got %d", srv2.Capacity)
	}

	templates, err := f.Templates()
	if err != nil {
		t.Fatal(err)
	}
	command, err := templates.Build("HTTP-GET", "1", "http://x", 10)
	if err != nil {
		t.Fatal(err)
	}
	if command != "run-job --tag job_1 --url http://x --seconds 10" {
		t.Errorf("unexpected command %q", command)
	}

	ack, err := f.Acknowledger()
	if err != nil {
		t.Fatal(err)
	}
	if !ack.Accepted([]byte("OK\n")) {
		t.Error("expected status acknowledgement")
	}
}

func TestParseDefaults(t *testing.T) {
	f, err := Parse(strings.NewReader(`
socket_token: secret
workers:
  srv1: {ip: 127.0.0.1, port: 4000}
commands:
  M: "run {id}"
`))
	if err != nil {
		t.Fatal(err)
	}
	if f.MaxJobs != DefaultMaxJobs || f.DispatchTimeout != 5*time.Second {
		t.Errorf("unexpected defaults %+v", f)
	}
}

func TestParseInvalid(t *testing.T) {
	invalid := map[string]string{
		"missing token":   "workers: {srv1: {ip: 127.0.0.1, port: 1}}\ncommands: {M: run}\n",
		"no workers":      "socket_token: s\ncommands: {M: run}\n",
		"no port":         "socket_token: s\nworkers: {srv1: {ip: 127.0.0.1}}\ncommands: {M: run}\n",
		"empty template":  "socket_token: s\nworkers: {srv1: {ip: 127.0.0.1, port: 1}}\ncommands: {M: ''}\n",
		"unknown ack":     "socket_token: s\nack_mode: json\nworkers: {srv1: {ip: 127.0.0.1, port: 1}}\ncommands: {M: run}\n",
		"unknown field":   "socket_token: s\nservers: {}\nworkers: {srv1: {ip: 127.0.0.1, port: 1}}\ncommands: {M: run}\n",
		"bad port number": "socket_token: s\nworkers: {srv1: {ip: 127.0.0.1, port: 70000}}\ncommands: {M: run}\n",
	}
	for name, content := range invalid {
		if _, err := Parse(strings.NewReader(content)); err == nil {
			t.Errorf("%s: expected fleet file to be rejected", name)
		}
	}
}
