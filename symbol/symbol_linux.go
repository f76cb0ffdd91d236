//go:build linux && cgo

package symbol

/*
#cgo LDFLAGS: -ldl
#define _GNU_SOURCE
#include <dlfcn.h>
#include <link.h>
#include <stdint.h>
#include <stdlib.h>

typedef uintptr_t (*callshim_fn0)(void);

static uintptr_t callshim_call0(uintptr_t fn) {
	return ((callshim_fn0)fn)();
}

static uintptr_t callshim_lookup(void *handle, const char *name, const char **err) {
	// clear stale dlerror
	dlerror();
	void *sym = dlsym(handle, name);
	const char *msg = dlerror();
	if (msg != NULL) {
		*err = msg;
		return 0;
	}
	return (uintptr_t)sym;
}

static uintptr_t callshim_next(const char *name, const char **err) {
	return callshim_lookup(RTLD_NEXT, name, err);
}

static uintptr_t callshim_default(const char *name, const char **err) {
	return callshim_lookup(RTLD_DEFAULT, name, err);
}

static uintptr_t callshim_handle_lookup(uintptr_t handle, const char *name, const char **err) {
	return callshim_lookup((void *)handle, name, err);
}

static uintptr_t callshim_open(const char *path, int global, const char **err) {
	dlerror();
	void *handle = dlopen(path, RTLD_NOW | (global ? RTLD_GLOBAL : RTLD_LOCAL));
	if (handle == NULL) {
		*err = dlerror();
	}
	return (uintptr_t)handle;
}

static int callshim_close(uintptr_t handle, const char **err) {
	if (dlclose((void *)handle) != 0) {
		*err = dlerror();
		return -1;
	}
	return 0;
}

// Returns 0 when addr is not inside a loaded module, 2 when it is inside
// the main program and 1 otherwise.
static int callshim_owner(uintptr_t addr, const char **path) {
	Dl_info info;
	struct link_map *map = NULL;
	if (dladdr1((void *)addr, &info, (void **)&map, RTLD_DL_LINKMAP) == 0) {
		return 0;
	}
	*path = info.dli_fname;
	if (map != NULL && map->l_prev == NULL) {
		return 2;
	}
	return 1;
}

typedef struct callshim_object {
	const char *name;
	uintptr_t base;
} callshim_object;

struct callshim_collect {
	callshim_object *out;
	size_t max;
	size_t n;
};

static int callshim_collect_cb(struct dl_phdr_info *info, size_t size, void *data) {
	(void)size;
	struct callshim_collect *c = data;
	if (c->n < c->max) {
		c->out[c->n].name = info->dlpi_name;
		c->out[c->n].base = (uintptr_t)info->dlpi_addr;
	}
	c->n++;
	return 0;
}

static size_t callshim_objects(callshim_object *out, size_t max) {
	struct callshim_collect c = {out, max, 0};
	dl_iterate_phdr(callshim_collect_cb, &c);
	return c.n;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"unsafe"
)

func lookupErr(name string, cErr *C.char) error {
	if cErr != nil {
		return fmt.Errorf("dlsym(%s): %s: %w", name, C.GoString(cErr), ErrSymbolNotFound)
	}
	return fmt.Errorf("dlsym(%s): symbol address is nil: %w", name, ErrSymbolNotFound)
}

func cName(name string) (*C.char, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("symbol name cannot be empty")
	}
	if strings.ContainsRune(name, '\x00') {
		return nil, errors.New("symbol name contains NUL")
	}
	return C.CString(name), nil
}

// Next returns the next definition of name after the module this package is
// linked into, in the loader's search order.
func Next(name string) (uintptr, error) {
	cname, err := cName(name)
	if err != nil {
		return 0, err
	}
	defer C.free(unsafe.Pointer(cname))

	var cErr *C.char
	addr := uintptr(C.callshim_next(cname, &cErr))
	if addr == 0 {
		return 0, lookupErr(name, cErr)
	}
	return addr, nil
}

// Default returns the definition of name the loader binds for ordinary
// references from the main program.
func Default(name string) (uintptr, error) {
	cname, err := cName(name)
	if err != nil {
		return 0, err
	}
	defer C.free(unsafe.Pointer(cname))

	var cErr *C.char
	addr := uintptr(C.callshim_default(cname, &cErr))
	if addr == 0 {
		return 0, lookupErr(name, cErr)
	}
	return addr, nil
}

// Owner returns the path of the loaded module containing addr.
func Owner(addr uintptr) (string, error) {
	var path *C.char
	switch C.callshim_owner(C.uintptr_t(addr), &path) {
	case 0:
		return "", fmt.Errorf("dladdr(%#x): address is not in a loaded module", addr)
	case 2:
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("resolve main program path: %w", err)
		}
		return exe, nil
	}
	if path == nil {
		return "", fmt.Errorf("dladdr(%#x): module has no name", addr)
	}
	return C.GoString(path), nil
}

// Modules returns the loaded modules in the loader's search order. The
// first entry is always the main program.
func Modules() ([]Object, error) {
	raw := loadedObjects()
	if len(raw) == 0 {
		return nil, errors.New("dl_iterate_phdr reported no modules")
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve main program path: %w", err)
	}

	objs := make([]Object, 0, len(raw))
	for i, obj := range raw {
		switch {
		case i == 0:
			obj.Path = exe
			obj.Main = true
		case obj.Path == "" || !strings.HasPrefix(obj.Path, "/"):
			// vdso and other modules without a backing file
			obj.Virtual = true
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

func loadedObjects() []Object {
	capacity := 64
	for {
		buf := make([]C.callshim_object, capacity)
		n := int(C.callshim_objects(&buf[0], C.size_t(capacity)))
		if n > capacity {
			capacity = n
			continue
		}
		objs := make([]Object, 0, n)
		for _, o := range buf[:n] {
			objs = append(objs, Object{
				Path: C.GoString(o.name),
				Base: uintptr(o.base),
			})
		}
		return objs
	}
}

// Module is a shared object opened with dlopen.
type Module struct {
	mu     sync.RWMutex
	handle uintptr
	path   string
	closed bool
}

// Open loads the shared object at path with RTLD_NOW, and RTLD_LOCAL
// unless Global is given.
func Open(path string, opts ...OpenOption) (*Module, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("module path cannot be empty")
	}
	var cfg openConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	global := C.int(0)
	if cfg.global {
		global = 1
	}
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var cErr *C.char
	handle := uintptr(C.callshim_open(cpath, global, &cErr))
	if handle == 0 {
		msg := "unknown dlopen error"
		if cErr != nil {
			msg = C.GoString(cErr)
		}
		return nil, fmt.Errorf("dlopen(%s): %s", path, msg)
	}
	return &Module{handle: handle, path: path}, nil
}

// Path returns the path the module was opened from.
func (m *Module) Path() string {
	return m.path
}

// Lookup resolves name inside the module.
func (m *Module) Lookup(name string) (uintptr, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed || m.handle == 0 {
		return 0, ErrModuleClosed
	}

	cname, err := cName(name)
	if err != nil {
		return 0, err
	}
	defer C.free(unsafe.Pointer(cname))

	var cErr *C.char
	addr := uintptr(C.callshim_handle_lookup(C.uintptr_t(m.handle), cname, &cErr))
	if addr == 0 {
		return 0, lookupErr(name, cErr)
	}
	return addr, nil
}

// Close releases the module. Closing twice is a no-op.
func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	handle := m.handle
	m.handle = 0
	if handle == 0 {
		return nil
	}
	var cErr *C.char
	if C.callshim_close(C.uintptr_t(handle), &cErr) != 0 {
		msg := "unknown dlclose error"
		if cErr != nil {
			msg = C.GoString(cErr)
		}
		return fmt.Errorf("dlclose(%s): %s", m.path, msg)
	}
	return nil
}

// Call0 calls a C function taking no arguments and returning a word.
func Call0(fn uintptr) uintptr {
	return uintptr(C.callshim_call0(C.uintptr_t(fn)))
}
