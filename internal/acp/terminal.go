package acp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// terminalHandle tracks one terminal/create call: its backend process
// handle and the ring buffer capturing its output.
type terminalHandle struct {
	proc   ProcessHandle
	buf    *ringBuffer
	done   chan struct{}
	exit   int
	exited atomic.Bool
}

// TerminalManager maps ACP's async terminal model onto an ExecBackend,
// running against either the host or sandbox backend.
type TerminalManager struct {
	backend   ExecBackend
	terminals map[string]*terminalHandle
	nextID    atomic.Uint64
	mu        sync.Mutex
}

// NewTerminalManager creates a terminal manager backed by backend.
func NewTerminalManager(backend ExecBackend) *TerminalManager {
	return &TerminalManager{
		backend:   backend,
		terminals: make(map[string]*terminalHandle),
	}
}

// Create starts spec under the backend with a ring buffer of the given
// capacity capturing its output, and returns a terminal id.
func (tm *TerminalManager) Create(ctx context.Context, spec ProcessSpec, bufSize int) (string, error) {
	id := fmt.Sprintf("term-%d", tm.nextID.Add(1))
	buf := newRingBuffer(bufSize)

	proc, err := tm.backend.StartProcess(ctx, spec, buf)
	if err != nil {
		return "", err
	}

	th := &terminalHandle{proc: proc, buf: buf, done: make(chan struct{})}
	tm.mu.Lock()
	tm.terminals[id] = th
	tm.mu.Unlock()

	go func() {
		exit, _ := proc.Wait()
		th.exit = exit
		th.exited.Store(true)
		close(th.done)
	}()

	return id, nil
}

func (tm *TerminalManager) get(id string) (*terminalHandle, error) {
	tm.mu.Lock()
	th, ok := tm.terminals[id]
	tm.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("terminal %s not found", id)
	}
	return th, nil
}

// Output returns the current buffered output, a truncated flag, and the
// exit code/exited flag if the process has finished (spec.md §4.3.2
// terminal/output).
func (tm *TerminalManager) Output(id string) (output string, truncated bool, exitCode int, exited bool, err error) {
	th, err := tm.get(id)
	if err != nil {
		return "", false, 0, false, err
	}
	output, truncated = th.buf.Snapshot()
	exited = th.exited.Load()
	if exited {
		exitCode = th.exit
	}
	return output, truncated, exitCode, exited, nil
}

// WaitForExit blocks until the terminal's process exits.
func (tm *TerminalManager) WaitForExit(id string) (int, error) {
	th, err := tm.get(id)
	if err != nil {
		return -1, err
	}
	<-th.done
	return th.exit, nil
}

// Kill requests termination of the terminal's process.
func (tm *TerminalManager) Kill(id string) error {
	th, err := tm.get(id)
	if err != nil {
		return err
	}
	return th.proc.Kill()
}

// Release kills the process if still running, discards its buffer, and
// removes the registration.
func (tm *TerminalManager) Release(id string) {
	tm.mu.Lock()
	th, ok := tm.terminals[id]
	delete(tm.terminals, id)
	tm.mu.Unlock()
	if !ok {
		return
	}
	if !th.exited.Load() {
		_ = th.proc.Kill()
	}
}

// ReleaseAll releases every outstanding terminal, per spec.md §4.3.2's
// "on client shutdown, all outstanding terminals are released."
func (tm *TerminalManager) ReleaseAll() {
	tm.mu.Lock()
	ids := make([]string, 0, len(tm.terminals))
	for id := range tm.terminals {
		ids = append(ids, id)
	}
	tm.mu.Unlock()
	for _, id := range ids {
		tm.Release(id)
	}
}
