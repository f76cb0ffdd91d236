// Package symbol resolves function symbols the way the dynamic loader does:
// next-definition and default lookups, the loaded-module search order, and
// the exports of shared objects on disk.
package symbol

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
)

var (
	ErrSymbolNotFound = errors.New("symbol not found")
	ErrModuleClosed   = errors.New("module is closed")
)

// STT_GNU_IFUNC is missing from debug/elf. glibc exports several libc
// entry points as indirect functions.
const sttGNUIFunc elf.SymType = 10

// Object is a module loaded into the current process.
type Object struct {
	Path    string
	Base    uintptr
	Main    bool
	Virtual bool
}

// Definition is one loaded module's export of a symbol.
type Definition struct {
	Object
	Offset uintptr
	Addr   uintptr
}

// Definitions returns every loaded module that exports a defined function
// named name, in search order. The loader binds ordinary references to the
// first entry; a next-definition lookup from the first entry yields the
// second.
func Definitions(name string) ([]Definition, error) {
	objs, err := Modules()
	if err != nil {
		return nil, err
	}

	var defs []Definition
	for _, obj := range objs {
		if obj.Virtual {
			continue
		}
		off, err := exportedFunc(obj.Path, name)
		if err != nil {
			continue
		}
		defs = append(defs, Definition{
			Object: obj,
			Offset: off,
			Addr:   obj.Base + off,
		})
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrSymbolNotFound)
	}
	return defs, nil
}

// OpenOption configures Open.
type OpenOption func(*openConfig)

type openConfig struct {
	global bool
}

// Global opens the module with RTLD_GLOBAL: its definitions join the
// global scope searched by Default and by objects loaded later.
func Global() OpenOption {
	return func(c *openConfig) {
		c.global = true
	}
}

// Report describes a shared object on disk.
type Report struct {
	Path    string
	Machine elf.Machine
	Exports map[string]bool
}

// Missing returns the inspected symbols the object does not export.
func (r Report) Missing() []string {
	var missing []string
	for name, ok := range r.Exports {
		if !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Inspect checks that path is a shared object for the current architecture
// and reports which of symbols it exports as defined functions.
func Inspect(path string, symbols ...string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read shared object: %w", err)
	}
	f, err := validateELFForCurrentArch(data)
	if err != nil {
		return Report{}, fmt.Errorf("%s: %w", path, err)
	}
	defer f.Close()

	syms, err := f.DynamicSymbols()
	if err != nil {
		return Report{}, fmt.Errorf("%s: read dynamic symbols: %w", path, err)
	}

	report := Report{
		Path:    path,
		Machine: f.Machine,
		Exports: make(map[string]bool, len(symbols)),
	}
	for _, name := range symbols {
		_, ok := matchSymbolOffset(syms, name)
		report.Exports[name] = ok
	}
	return report, nil
}

func exportedFunc(path string, symbol string) (uintptr, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open elf %s: %w", path, err)
	}
	defer f.Close()

	syms, err := f.DynamicSymbols()
	if err != nil {
		return 0, fmt.Errorf("read dynamic symbols of %s: %w", path, err)
	}
	if off, ok := matchSymbolOffset(syms, symbol); ok {
		return off, nil
	}
	return 0, fmt.Errorf("symbol %s not exported by %s", symbol, path)
}

func matchSymbolOffset(symbols []elf.Symbol, want string) (uintptr, bool) {
	for _, s := range symbols {
		if s.Value == 0 || s.Section == elf.SHN_UNDEF {
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, sttGNUIFunc:
		default:
			continue
		}
		switch elf.ST_BIND(s.Info) {
		case elf.STB_GLOBAL, elf.STB_WEAK:
		default:
			continue
		}
		if s.Name == want || strings.HasPrefix(s.Name, want+"@") {
			return uintptr(s.Value), true
		}
	}
	return 0, false
}

func validateELFForCurrentArch(data []byte) (*elf.File, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid ELF image: %w", err)
	}

	machine, err := currentELFMachine()
	if err != nil {
		f.Close()
		return nil, err
	}
	if f.Machine != machine {
		f.Close()
		return nil, fmt.Errorf("foreign platform (provided: %s, expected: %s)", f.Machine, machine)
	}
	if f.Type != elf.ET_DYN {
		f.Close()
		return nil, fmt.Errorf("unsupported ELF file type: %s", f.Type)
	}
	return f, nil
}

func currentELFMachine() (elf.Machine, error) {
	switch runtime.GOARCH {
	case "386":
		return elf.EM_386, nil
	case "amd64":
		return elf.EM_X86_64, nil
	case "arm64":
		return elf.EM_AARCH64, nil
	default:
		return 0, fmt.Errorf("unsupported architecture: %s", runtime.GOARCH)
	}
}
