package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// driverSource is the loader run inside the child process. It imports
// the artifact as a module, calls its zero-argument mutate() entry point
// and writes the produced SQL to stdout. Any failure exits non-zero with
// a diagnostic on stderr (the traceback for a raised exception, a
// one-line message for a missing entry point or a non-str result), which
// becomes the repair-prompt payload.
const driverSource = `import importlib.util
import sys
import traceback


def _load(path):
    spec = importlib.util.spec_from_file_location("mutator_artifact", path)
    module = importlib.util.module_from_spec(spec)
    spec.loader.exec_module(module)
    return module


def main():
    if len(sys.argv) != 2:
        sys.stderr.write("usage: driver.py <artifact.py>\n")
        return 2
    try:
        module = _load(sys.argv[1])
        mutate = getattr(module, "mutate", None)
        if mutate is None:
            sys.stderr.write("artifact has no mutate() entry point\n")
            return 3
        out = mutate()
        if not isinstance(out, str):
            sys.stderr.write("mutate() returned %s, want str\n" % type(out).__name__)
            return 4
        sys.stdout.write(out)
        return 0
    except Exception:
        traceback.print_exc()
        return 1


if __name__ == "__main__":
    sys.exit(main())
`

// Evaluator validates and invokes mutator artifacts.
type Evaluator interface {
	// StaticCheck reports nil when the artifact compiles; otherwise the
	// error text carries the checker output for the repair prompt.
	StaticCheck(artifactPath string) error

	// Invoke runs the artifact's entry point once and returns the SQL it
	// produced. Errors carry the child's stderr (usually a traceback).
	Invoke(artifactPath string) (string, error)
}

// PythonEvaluator checks artifacts with py_compile and executes them
// through the embedded driver.
type PythonEvaluator struct {
	python     string
	driverPath string
	exec       Executor
}

// NewPythonEvaluator writes the driver into tmpDir and returns an
// evaluator using the given interpreter. A nil executor defaults to the
// real CommandExecutor.
func NewPythonEvaluator(python, tmpDir string, executor Executor) (*PythonEvaluator, error) {
	if python == "" {
		python = "python3"
	}
	if executor == nil {
		executor = NewCommandExecutor()
	}

	driverPath := filepath.Join(tmpDir, "driver.py")
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create evaluator directory: %w", err)
	}
	if err := os.WriteFile(driverPath, []byte(driverSource), 0644); err != nil {
		return nil, fmt.Errorf("failed to write driver: %w", err)
	}

	return &PythonEvaluator{
		python:     python,
		driverPath: driverPath,
		exec:       executor,
	}, nil
}

// StaticCheck implements Evaluator.
func (e *PythonEvaluator) StaticCheck(artifactPath string) error {
	result, err := e.exec.Run(e.python, "-m", "py_compile", artifactPath)
	if err != nil {
		return fmt.Errorf("static checker failed to run: %w", err)
	}
	if result.ExitCode != 0 {
		out := strings.TrimSpace(result.Stderr)
		if out == "" {
			out = strings.TrimSpace(result.Stdout)
		}
		return fmt.Errorf("%s", out)
	}
	return nil
}

// Invoke implements Evaluator.
func (e *PythonEvaluator) Invoke(artifactPath string) (string, error) {
	result, err := e.exec.Run(e.python, e.driverPath, artifactPath)
	if err != nil {
		return "", fmt.Errorf("evaluator failed to run: %w", err)
	}
	if result.ExitCode != 0 {
		out := strings.TrimSpace(result.Stderr)
		if out == "" {
			out = fmt.Sprintf("artifact exited with status %d", result.ExitCode)
		}
		return "", fmt.Errorf("%s", out)
	}
	return result.Stdout, nil
}
