package identity

import "testing"

func TestResolveUserAcceptsNumericString(t *testing.T) {
	uid, err := ResolveUser("0")
	if err != nil {
		t.Fatalf("ResolveUser: %v", err)
	}
	if uid != 0 {
		t.Errorf("uid = %d, want 0", uid)
	}
}

func TestResolveGroupAcceptsNumericString(t *testing.T) {
	gid, err := ResolveGroup("0")
	if err != nil {
		t.Fatalf("ResolveGroup: %v", err)
	}
	if gid != 0 {
		t.Errorf("gid = %d, want 0", gid)
	}
}

func TestResolveUserRejectsUnknownName(t *testing.T) {
	if _, err := ResolveUser("no-such-user-xyz"); err == nil {
		t.Fatalf("expected error for unknown username")
	}
}

func TestCredentialNilWhenNeitherSet(t *testing.T) {
	if c := Credential(0, 0, false, false); c != nil {
		t.Errorf("expected nil credential, got %+v", c)
	}
}

func TestCredentialOnlyPopulatesRequestedFields(t *testing.T) {
	c := Credential(500, 0, true, false)
	if c == nil {
		t.Fatalf("expected non-nil credential")
	}
	if c.Uid != 500 {
		t.Errorf("Uid = %d, want 500", c.Uid)
	}
	if c.Gid != 0 {
		t.Errorf("Gid = %d, want 0 (unset)", c.Gid)
	}
}

func TestCredentialBothSet(t *testing.T) {
	c := Credential(500, 600, true, true)
	if c == nil {
		t.Fatalf("expected non-nil credential")
	}
	if c.Uid != 500 || c.Gid != 600 {
		t.Errorf("got Uid=%d Gid=%d, want 500/600", c.Uid, c.Gid)
	}
}
