//go:build unix

package opensslconf

import (
	"os"

	"golang.org/x/sys/unix"
)

// Advisory locks keep cooperating writers (other instances, openssl tooling
// that honours flock) from interleaving with a rewrite.

func lockShared(f *os.File) (func(), error) {
	return flock(f, unix.LOCK_SH)
}

func lockExclusive(f *os.File) (func(), error) {
	return flock(f, unix.LOCK_EX)
}

func flock(f *os.File, how int) (func(), error) {
	fd := int(f.Fd())
	for {
		err := unix.Flock(fd, how)
		if err == nil {
			break
		}
		if err != unix.EINTR {
			return nil, err
		}
	}
	return func() { _ = unix.Flock(fd, unix.LOCK_UN) }, nil
}
