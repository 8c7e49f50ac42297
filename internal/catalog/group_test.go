package catalog

import (
	"encoding/json"
	"testing"
)

func TestGroupRoundTripOmitsUnsetFields(t *testing.T) {
	g := &Group{
		Name:      "web",
		Command:   []string{"/bin/sleep", "60"},
		Instances: 2,
		Status:    StatusRunning,
		KillSig:   15,
	}

	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	for _, unset := range []string{"dir", "stdout_path", "stderr_path", "heartbeat_cmd", "fatal_cmd", "username", "groupname", "uid", "gid"} {
		if _, ok := raw[unset]; ok {
			t.Errorf("expected %q to be absent, found in %s", unset, data)
		}
	}

	var out Group
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Name != g.Name || out.Instances != g.Instances || out.Status != g.Status {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, g)
	}
	if out.Dir != nil {
		t.Errorf("expected Dir to deserialize as unset, got %v", *out.Dir)
	}
}

func TestGroupUnmarshalTreatsNegativeOneAsUnset(t *testing.T) {
	var g Group
	if err := json.Unmarshal([]byte(`{"name":"x","uid":-1,"gid":-1}`), &g); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if g.UID != nil {
		t.Errorf("expected UID -1 to normalize to nil, got %v", *g.UID)
	}
	if g.GID != nil {
		t.Errorf("expected GID -1 to normalize to nil, got %v", *g.GID)
	}
}

func TestRawFieldsDistinguishesAbsentFromZero(t *testing.T) {
	fields, err := RawFields([]byte(`{"name":"x","instances":0}`))
	if err != nil {
		t.Fatalf("RawFields: %v", err)
	}
	if _, ok := fields["instances"]; !ok {
		t.Errorf("expected instances to be reported present even though its value is zero")
	}
	if _, ok := fields["age"]; ok {
		t.Errorf("expected age to be absent")
	}
}
