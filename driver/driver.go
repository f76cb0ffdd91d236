//go:build linux && cgo

// Package driver creates threads through pthread_create so interception can
// be checked for transparency. It knows nothing about the interception
// strategy: whichever one the binary was built or launched with sees the
// calls.
package driver

/*
#define _GNU_SOURCE
#include <errno.h>
#include <pthread.h>
#include <stdint.h>
#include <sys/syscall.h>
#include <unistd.h>

typedef int (*callshim_create_fn)(pthread_t *, const pthread_attr_t *, void *(*)(void *), void *);

static void *callshim_driver_body(void *arg) {
	__atomic_add_fetch((int *)arg, 1, __ATOMIC_SEQ_CST);
	return NULL;
}

// Creates n threads, stores each pthread_create result in codes and joins
// every thread that was created. Returns the number created.
static int callshim_driver_spawn(int n, int *ran, int *codes, int64_t *tid) {
	pthread_t threads[64];
	int ok[64];
	int created = 0;
	int i = 0;

	*tid = (int64_t)syscall(SYS_gettid);
	while (i < n) {
		int batch = n - i;
		if (batch > 64) {
			batch = 64;
		}
		for (int j = 0; j < batch; j++) {
			codes[i + j] = pthread_create(&threads[j], NULL, callshim_driver_body, ran);
			ok[j] = codes[i + j] == 0;
		}
		for (int j = 0; j < batch; j++) {
			if (ok[j]) {
				pthread_join(threads[j], NULL);
				created++;
			}
		}
		i += batch;
	}
	return created;
}

// Creates one thread with the given stack size through fn, or through the
// pthread_create symbol when fn is 0. errno is set to sentinel just before
// the call and stored in *err just after. Returns the create result, or -1
// when the attribute could not be prepared.
static int callshim_driver_create_via(uintptr_t fn, size_t stack, int sentinel, int *ran, int64_t *tid, int *err) {
	pthread_attr_t attr;
	pthread_t thread;
	int rc;

	*tid = (int64_t)syscall(SYS_gettid);
	if (pthread_attr_init(&attr) != 0) {
		return -1;
	}
	if (stack != 0 && pthread_attr_setstacksize(&attr, stack) != 0) {
		pthread_attr_destroy(&attr);
		return -1;
	}
	errno = sentinel;
	if (fn != 0) {
		rc = ((callshim_create_fn)fn)(&thread, &attr, callshim_driver_body, ran);
	} else {
		rc = pthread_create(&thread, &attr, callshim_driver_body, ran);
	}
	*err = errno;
	pthread_attr_destroy(&attr);
	if (rc == 0) {
		pthread_join(thread, NULL);
	}
	return rc;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
)

// Result is the outcome of a driver run.
type Result struct {
	Requested int
	Created   int
	// Ran counts thread bodies that executed; each body runs exactly once.
	Ran   int
	Codes []int
	// TID is the OS thread that issued the calls. It is 0 for concurrent
	// runs, which use many.
	TID int
}

// OK reports whether every requested thread was created and ran.
func (r Result) OK() bool {
	return r.Created == r.Requested && r.Ran == r.Requested
}

func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	for i, code := range r.Codes {
		if code != 0 {
			return fmt.Errorf("driver: pthread_create #%d returned %d", i, code)
		}
	}
	return fmt.Errorf("driver: created %d/%d threads, %d ran", r.Created, r.Requested, r.Ran)
}

// Spawn creates n threads whose body only counts itself, then joins them.
func Spawn(n int) (Result, error) {
	if n <= 0 {
		return Result{}, errors.New("driver: thread count must be positive")
	}

	var (
		ran   C.int
		tid   C.int64_t
		codes = make([]C.int, n)
	)
	created := int(C.callshim_driver_spawn(C.int(n), &ran, &codes[0], &tid))

	res := Result{
		Requested: n,
		Created:   created,
		Ran:       int(ran),
		Codes:     make([]int, n),
		TID:       int(tid),
	}
	for i, code := range codes {
		res.Codes[i] = int(code)
	}
	return res, nil
}

// SpawnConcurrent issues k pthread_create calls from k goroutines released
// together. Each goroutine sits in its own cgo call, so the calls reach the
// intercepted symbol from k OS threads at once.
func SpawnConcurrent(k int) (Result, error) {
	if k <= 0 {
		return Result{}, errors.New("driver: concurrency must be positive")
	}

	var (
		wg      sync.WaitGroup
		ready   sync.WaitGroup
		start   = make(chan struct{})
		results = make([]Result, k)
		errs    = make([]error, k)
	)
	ready.Add(k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ready.Done()
			<-start
			results[i], errs[i] = Spawn(1)
		}(i)
	}
	ready.Wait()
	close(start)
	wg.Wait()

	total := Result{Requested: k, Codes: make([]int, 0, k)}
	for i, res := range results {
		if errs[i] != nil {
			return Result{}, errs[i]
		}
		total.Created += res.Created
		total.Ran += res.Ran
		total.Codes = append(total.Codes, res.Codes...)
	}
	return total, nil
}

// ErrnoSentinel is the errno value CreateVia sets right before calling
// pthread_create.
const ErrnoSentinel = 4242

// Create is the outcome of a single CreateVia call.
type Create struct {
	Code int
	Ran  bool
	TID  int
	// Errno is errno as pthread_create left it, seeded with ErrnoSentinel.
	Errno int
}

// CreateVia creates and joins one thread with the given stack size (0 for
// the default). With fn == 0 the call goes through the pthread_create
// symbol like any application call; otherwise fn is called directly and
// must have pthread_create's signature.
func CreateVia(fn uintptr, stackSize uint64) (Create, error) {
	var (
		ran   C.int
		tid   C.int64_t
		errno C.int
	)
	rc := int(C.callshim_driver_create_via(C.uintptr_t(fn), C.size_t(stackSize), ErrnoSentinel, &ran, &tid, &errno))
	if rc < 0 {
		return Create{TID: int(tid)}, fmt.Errorf("driver: prepare attributes with stack size %d", stackSize)
	}
	return Create{Code: rc, Ran: ran == 1, TID: int(tid), Errno: int(errno)}, nil
}
