//go:build !windows

package keys

import (
	"fmt"
	"os"
	"syscall"
)

// checkOwnerAndMode enforces pc::key_store::init's directory guard: owned
// by the running user, and closed to group/other.
func checkOwnerAndMode(dir string, fi os.FileInfo) error {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	if int(st.Uid) != os.Getuid() {
		return fmt.Errorf("key store: %s must be owned by the current user", dir)
	}
	if fi.Mode().Perm()&0077 != 0 {
		return fmt.Errorf("key store: %s must not be readable or writable by group or other (mode %04o)", dir, fi.Mode().Perm())
	}
	return nil
}
