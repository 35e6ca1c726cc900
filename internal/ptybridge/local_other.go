//go:build !unix

package ptybridge

import "context"

// LocalBackend is unavailable on non-unix platforms, mirroring the
// original source's #[cfg(not(unix))] branch that replies with a single
// "not supported" error frame and closes.
type LocalBackend struct {
	Command string
	Args    []string
}

// Open implements Backend.
func (b LocalBackend) Open(ctx context.Context, rows, cols uint16) (Session, error) {
	return nil, ErrUnsupportedPlatform
}
