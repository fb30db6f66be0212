package supervisor

import (
	"context"
	"strings"
	"sync"
)

// fakeProcess is a scripted process for tests. Lines are emitted with
// emit and the process "exits" via exit.
type fakeProcess struct {
	mu          sync.Mutex
	inputs      []string
	inputClosed bool
	terminated  bool
	killed      bool

	lines    chan string
	exitCode int
	exitOnce sync.Once
	exited   chan struct{}
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		lines:  make(chan string, 64),
		exited: make(chan struct{}),
	}
}

func (p *fakeProcess) emit(line string) {
	p.lines <- line
}

func (p *fakeProcess) exit(code int) {
	p.exitOnce.Do(func() {
		p.exitCode = code
		close(p.lines)
		close(p.exited)
	})
}

func (p *fakeProcess) SendInput(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputs = append(p.inputs, line)
	return nil
}

func (p *fakeProcess) CloseInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputClosed = true
	return nil
}

func (p *fakeProcess) Lines() <-chan string {
	return p.lines
}

func (p *fakeProcess) Wait() int {
	<-p.exited
	return p.exitCode
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	p.exit(0)
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(-1)
	return nil
}

func (p *fakeProcess) sentInputs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.inputs...)
}

// fakeRunner scripts command execution. Output results are keyed by the
// full command line.
type fakeRunner struct {
	mu          sync.Mutex
	lookPathErr error
	startErr    error
	proc        *fakeProcess
	outputs     map[string][]byte
	outputErrs  map[string]error
	calls       []string
}

func newFakeRunner(proc *fakeProcess) *fakeRunner {
	return &fakeRunner{
		proc:       proc,
		outputs:    make(map[string][]byte),
		outputErrs: make(map[string]error),
	}
}

func (r *fakeRunner) LookPath(string) error {
	return r.lookPathErr
}

func (r *fakeRunner) Start(name string, args ...string) (process, error) {
	r.mu.Lock()
	r.calls = append(r.calls, strings.Join(append([]string{name}, args...), " "))
	r.mu.Unlock()
	if r.startErr != nil {
		return nil, r.startErr
	}
	return r.proc, nil
}

func (r *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	r.mu.Lock()
	r.calls = append(r.calls, key)
	out := r.outputs[key]
	err := r.outputErrs[key]
	r.mu.Unlock()
	return out, err
}

func (r *fakeRunner) calledWith(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, call := range r.calls {
		if call == key {
			return true
		}
	}
	return false
}
