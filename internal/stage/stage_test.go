package stage

import (
	"sync"
	"time"

	"github.com/zjy-dev/sqlforge/internal/llm"
	"github.com/zjy-dev/sqlforge/internal/logger"
)

// fakeLLM scripts completions per call index.
type fakeLLM struct {
	mu    sync.Mutex
	fn    func(call int, system, user string) (*llm.Result, error)
	calls int
}

func (f *fakeLLM) Chat(system, user string) (*llm.Result, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()
	return f.fn(call, system, user)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeEval scripts the sandbox evaluator.
type fakeEval struct {
	mu       sync.Mutex
	staticFn func(call int, path string) error
	invokeFn func(call int, path string) (string, error)

	staticCalls int
	invokeCalls int
}

func (f *fakeEval) StaticCheck(path string) error {
	f.mu.Lock()
	call := f.staticCalls
	f.staticCalls++
	f.mu.Unlock()
	if f.staticFn == nil {
		return nil
	}
	return f.staticFn(call, path)
}

func (f *fakeEval) Invoke(path string) (string, error) {
	f.mu.Lock()
	call := f.invokeCalls
	f.invokeCalls++
	f.mu.Unlock()
	if f.invokeFn == nil {
		return "SELECT 1;", nil
	}
	return f.invokeFn(call, path)
}

func fenced(tag, payload string) string {
	return "```" + tag + "\n" + payload + "\n```"
}

func testLogger(name string) *logger.Logger {
	return logger.NewConsole(name, "error")
}

func testStart() time.Time {
	return time.Now()
}
