//go:build !linux || !cgo

package callshim

// Preloaded always fails: interposers are only loaded on Linux with cgo.
func Preloaded() (Target, error) {
	return nil, ErrNotPreloaded
}
