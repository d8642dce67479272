// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import "golang.org/x/sys/unix"

// sandbox restricts filesystem access to the key directory and the
// controlling terminal.
func sandbox(keydir string) error {
	if err := unix.Unveil(keydir, "rwc"); err != nil {
		return err
	}
	if err := unix.Unveil("/dev/tty", "rw"); err != nil {
		return err
	}
	return unix.UnveilBlock()
}
