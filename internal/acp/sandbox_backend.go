package acp

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/acpxdev/acpx/internal/sandbox"
)

// sandboxBackend redirects fs/* and terminal/* calls into a Docker
// container instead of the host: sandbox.Sandbox's synchronous
// docker-exec call becomes the primitive a terminal/create goroutine
// drives, and Start bind-mounts the session's actual cwd instead of a
// generic workspace directory so containment holds the same way it does
// for the host backend.
type sandboxBackend struct {
	sb *sandbox.Sandbox
}

// NewSandboxBackend starts (or reuses) a container rooted at cwd and
// returns an ExecBackend that executes inside it.
func NewSandboxBackend(cwd, image, dockerfile string) (ExecBackend, error) {
	sb := sandbox.New(cwd, image, dockerfile)
	if err := sb.Start(); err != nil {
		return nil, fmt.Errorf("start sandbox: %w", err)
	}
	return &sandboxBackend{sb: sb}, nil
}

func (s *sandboxBackend) ReadFile(_ context.Context, path string) ([]byte, error) {
	out, err := s.sb.Execute(fmt.Sprintf("cat %q", path))
	if err != nil {
		return nil, fmt.Errorf("read %s in sandbox: %w", path, err)
	}
	return []byte(out), nil
}

func (s *sandboxBackend) WriteFile(_ context.Context, path string, content []byte) error {
	dir := pathDir(path)
	if dir != "" {
		_, _ = s.sb.Execute(fmt.Sprintf("mkdir -p %q", dir))
	}
	cmd := fmt.Sprintf("cat > %q << 'ACPX_EOF'\n%s\nACPX_EOF", path, string(content))
	if _, err := s.sb.Execute(cmd); err != nil {
		return fmt.Errorf("write %s in sandbox: %w", path, err)
	}
	return nil
}

type sandboxProcess struct {
	done chan struct{}
	exit int
}

// StartProcess runs spec synchronously inside the container on a
// goroutine, writing its combined output to out only once the command
// finishes: the sandbox has no live-streaming primitive, unlike the host
// backend's piped stdout/stderr.
func (s *sandboxBackend) StartProcess(_ context.Context, spec ProcessSpec, out io.Writer) (ProcessHandle, error) {
	full := spec.Command
	for _, a := range spec.Args {
		full += " " + a
	}
	if spec.Cwd != "" {
		full = fmt.Sprintf("cd %s && %s", spec.Cwd, full)
	}

	sp := &sandboxProcess{done: make(chan struct{})}
	go func() {
		output, err := s.sb.Execute(full)
		io.WriteString(out, output)
		if err != nil {
			sp.exit = 1
		}
		close(sp.done)
	}()
	return sp, nil
}

func (p *sandboxProcess) Wait() (int, error) {
	<-p.done
	return p.exit, nil
}

// Kill is best-effort: sandbox.Sandbox.Execute enforces its own timeout
// and there is no per-exec PID to signal independently of the container.
func (p *sandboxProcess) Kill() error { return nil }

func pathDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}
