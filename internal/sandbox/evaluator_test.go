package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor records invocations and plays back scripted results.
type fakeExecutor struct {
	calls   [][]string
	results []*ExecutionResult
	err     error
}

func (f *fakeExecutor) Run(command string, args ...string) (*ExecutionResult, error) {
	f.calls = append(f.calls, append([]string{command}, args...))
	if f.err != nil {
		return nil, f.err
	}
	result := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return result, nil
}

func newEvaluator(t *testing.T, exec Executor) *PythonEvaluator {
	t.Helper()
	e, err := NewPythonEvaluator("python3", t.TempDir(), exec)
	require.NoError(t, err)
	return e
}

func TestNewPythonEvaluator_WritesDriver(t *testing.T) {
	dir := t.TempDir()
	_, err := NewPythonEvaluator("", dir, &fakeExecutor{})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "driver.py"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "mutate")
	assert.Contains(t, string(data), "importlib.util")
}

func TestPythonEvaluator_StaticCheck(t *testing.T) {
	t.Run("should pass on zero exit", func(t *testing.T) {
		exec := &fakeExecutor{results: []*ExecutionResult{{ExitCode: 0}}}
		e := newEvaluator(t, exec)

		assert.NoError(t, e.StaticCheck("/tmp/artifact.py"))
		require.Len(t, exec.calls, 1)
		assert.Equal(t, []string{"python3", "-m", "py_compile", "/tmp/artifact.py"}, exec.calls[0])
	})

	t.Run("should surface checker output on failure", func(t *testing.T) {
		exec := &fakeExecutor{results: []*ExecutionResult{{
			ExitCode: 1,
			Stderr:   "SyntaxError: invalid syntax (artifact.py, line 3)",
		}}}
		e := newEvaluator(t, exec)

		err := e.StaticCheck("/tmp/artifact.py")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SyntaxError")
	})
}

func TestPythonEvaluator_Invoke(t *testing.T) {
	t.Run("should return the produced SQL", func(t *testing.T) {
		exec := &fakeExecutor{results: []*ExecutionResult{{
			ExitCode: 0,
			Stdout:   "SELECT 1;",
		}}}
		e := newEvaluator(t, exec)

		out, err := e.Invoke("/tmp/artifact.py")
		require.NoError(t, err)
		assert.Equal(t, "SELECT 1;", out)

		require.Len(t, exec.calls, 1)
		assert.Equal(t, "python3", exec.calls[0][0])
		assert.Equal(t, "/tmp/artifact.py", exec.calls[0][2])
	})

	t.Run("should surface the traceback on non-zero exit", func(t *testing.T) {
		exec := &fakeExecutor{results: []*ExecutionResult{{
			ExitCode: 1,
			Stderr:   "Traceback (most recent call last):\nKeyError: 'mask'",
		}}}
		e := newEvaluator(t, exec)

		_, err := e.Invoke("/tmp/artifact.py")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "KeyError")
	})

	t.Run("should report a status-only failure", func(t *testing.T) {
		exec := &fakeExecutor{results: []*ExecutionResult{{ExitCode: 3}}}
		e := newEvaluator(t, exec)

		_, err := e.Invoke("/tmp/artifact.py")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 3")
	})
}
