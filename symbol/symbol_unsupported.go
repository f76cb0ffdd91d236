//go:build !linux || !cgo

package symbol

import "errors"

var errUnsupported = errors.New("symbol resolution requires linux and cgo")

func Next(name string) (uintptr, error) {
	_ = name
	return 0, errUnsupported
}

func Default(name string) (uintptr, error) {
	_ = name
	return 0, errUnsupported
}

func Owner(addr uintptr) (string, error) {
	_ = addr
	return "", errUnsupported
}

func Modules() ([]Object, error) {
	return nil, errUnsupported
}

type Module struct{}

func Open(path string, opts ...OpenOption) (*Module, error) {
	_, _ = path, opts
	return nil, errUnsupported
}

func (m *Module) Path() string { return "" }

func (m *Module) Lookup(name string) (uintptr, error) {
	_ = name
	return 0, errUnsupported
}

func (m *Module) Close() error { return nil }

func Call0(fn uintptr) uintptr {
	panic("symbol: Call0 requires linux and cgo")
}
