package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
)

// runner abstracts process execution so tests never spawn real processes.
type runner interface {
	// LookPath reports whether the named binary is installed.
	LookPath(name string) error
	// Start launches a long-running command and returns the live process.
	Start(name string, args ...string) (process, error)
	// Output runs a short command to completion and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// process is a started subprocess under supervision.
type process interface {
	// SendInput writes a line to the process stdin.
	SendInput(line string) error
	// CloseInput closes the process stdin.
	CloseInput() error
	// Lines yields merged stdout/stderr output line by line. The channel
	// is closed when both streams reach EOF.
	Lines() <-chan string
	// Wait blocks until the process exits and returns its exit code.
	Wait() int
	// Terminate requests graceful termination.
	Terminate() error
	// Kill forcibly terminates the process.
	Kill() error
}

// execRunner is the production runner backed by os/exec.
type execRunner struct{}

func (execRunner) LookPath(name string) error {
	_, err := exec.LookPath(name)
	return err
}

func (execRunner) Start(name string, args ...string) (process, error) {
	cmd := exec.Command(name, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, 64),
	}
	p.wg.Add(2)
	go p.scan(stdout)
	go p.scan(stderr)
	go func() {
		p.wg.Wait()
		close(p.lines)
	}()

	return p, nil
}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

type execProcess struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan string
	wg      sync.WaitGroup
	inMu    sync.Mutex
	closed  bool
	waitOne sync.Once
	code    int
}

func (p *execProcess) scan(r io.Reader) {
	defer p.wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.lines <- scanner.Text()
	}
}

func (p *execProcess) SendInput(line string) error {
	p.inMu.Lock()
	defer p.inMu.Unlock()
	if p.closed {
		return fmt.Errorf("stdin already closed")
	}
	_, err := fmt.Fprintf(p.stdin, "%s\n", line)
	return err
}

func (p *execProcess) CloseInput() error {
	p.inMu.Lock()
	defer p.inMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.stdin.Close()
}

func (p *execProcess) Lines() <-chan string {
	return p.lines
}

func (p *execProcess) Wait() int {
	p.waitOne.Do(func() {
		err := p.cmd.Wait()
		if err == nil {
			p.code = 0
			return
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			p.code = exitErr.ExitCode()
			return
		}
		p.code = -1
	})
	return p.code
}

func (p *execProcess) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
