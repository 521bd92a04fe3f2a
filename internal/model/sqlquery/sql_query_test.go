package sqlquery

import "testing"

func TestRebind(t *testing.T) {
	query := "SELECT id FROM jobs WHERE worker = ? AND startedAt > ?"
	if rebound := Rebind("sqlite", query); rebound != query {
		t.Errorf("sqlite query changed: %s", rebound)
	}
	expected := "SELECT id FROM jobs WHERE worker = $1 AND startedAt > $2"
	if rebound := Rebind("postgres", query); rebound != expected {
		t.Errorf("expected %s, got %s", expected, rebound)
	}
}
