package factory

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/sqlforge/internal/config"
	"github.com/zjy-dev/sqlforge/internal/llm"
)

// fakeLLM answers by prompt shape: annotation requests get annotated
// SQL, generation and repair requests get a mutator module, structural
// requests get rewritten SQL.
type fakeLLM struct {
	mu    sync.Mutex
	calls int
}

const fakeMutatorModule = `import random

def mutate():
    return "INSERT INTO t1 VALUES (%d);" % random.randint(0, 99)`

func (f *fakeLLM) Chat(system, user string) (*llm.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	switch {
	case strings.Contains(user, "Python"):
		// Generation and repair prompts both ask for a Python module.
		return &llm.Result{Body: "```python\n" + fakeMutatorModule + "\n```", UpTokens: 8, DownTokens: 80}, nil
	case strings.Contains(system, "fuzzing expert"):
		return &llm.Result{Body: "```sql\nSELECT 1 UNION SELECT 2;\n```", UpTokens: 5, DownTokens: 5}, nil
	default:
		body := "```sql\nINSERT INTO t1 VALUES ([CONSTANT, number:1, type:int, ori:9410]);\n```"
		return &llm.Result{Body: body, UpTokens: 10, DownTokens: 20}, nil
	}
}

// fakeEval accepts every artifact and produces one fixed mutation.
type fakeEval struct {
	mu       sync.Mutex
	invokeFn func(call int, path string) (string, error)
	invokes  int
}

func (f *fakeEval) StaticCheck(path string) error {
	return nil
}

func (f *fakeEval) Invoke(path string) (string, error) {
	f.mu.Lock()
	call := f.invokes
	f.invokes++
	f.mu.Unlock()
	if f.invokeFn == nil {
		return "INSERT INTO t1 VALUES (123);", nil
	}
	return f.invokeFn(call, path)
}

// newTestConfig builds a fully-populated configuration over temp dirs.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	return &config.Config{
		Target: config.TargetConfig{DBMS: "MySQL", DBMSVersion: "8.0.30"},
		LLM:    config.LLMConfig{APIKey: "k", Model: "m", BaseURL: "http://example.invalid"},
		Log:    config.LogConfig{Level: "error"},
		CSV: config.CSVConfig{
			MainCSVPath:       filepath.Join(base, "csv", "main.csv"),
			ParserCSVPath:     filepath.Join(base, "csv", "parser.csv"),
			GeneratorCSVPath:  filepath.Join(base, "csv", "generator.csv"),
			FixerCSVPath:      filepath.Join(base, "csv", "fixer.csv"),
			StructuralCSVPath: filepath.Join(base, "csv", "structural.csv"),
		},
		FilePath: config.FilePathConfig{
			ParsedSQLPath:        filepath.Join(base, "parsed"),
			GeneratedMutatorPath: filepath.Join(base, "mutators"),
			StructuralMutatePath: filepath.Join(base, "structural"),
			MutatorFixTmpPath:    filepath.Join(base, "fixtmp"),
		},
		Workers: config.WorkersConfig{Parser: 1, Generator: 1, Fixer: 1, Structural: 1},
		Others: config.OthersConfig{
			FixMutatorTryTime:      3,
			LLMFormatErrorMaxRetry: 3,
			MutateBudget:           3,
			StructuralCadence:      10,
			QueueCapacity:          64,
			PythonPath:             "python3",
		},
	}
}

func newTestFactory(t *testing.T, eval *fakeEval) *Factory {
	t.Helper()
	cfg := newTestConfig(t)
	require.NoError(t, cfg.PrepareDirectories())
	f, err := NewWithClients(cfg, &fakeLLM{}, eval, Logs{})
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f
}

func TestFactory_Intake_Routing(t *testing.T) {
	f := newTestFactory(t, &fakeEval{})
	f.Cfg.Others.StructuralCadence = 3

	buf := []byte("SELECT 1;")
	for i := 0; i < 6; i++ {
		f.Intake(buf, 4)
	}

	assert.Equal(t, 4, f.ParseQ.Len(), "non-cadence selections go to parse")
	assert.Equal(t, 2, f.StructuralQ.Len(), "every 3rd selection goes structural")
	assert.Equal(t, 1, f.Registry.Len())
	assert.Equal(t, 6, f.Registry.SelectionCount(0))
}

func TestFactory_Intake_Dedup(t *testing.T) {
	f := newTestFactory(t, &fakeEval{})

	id1, isNew := f.Intake([]byte("SELECT 1;"), 4)
	assert.True(t, isNew)
	id2, isNew := f.Intake([]byte("SELECT 1;"), 4)
	assert.False(t, isNew)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, f.Registry.Len())
}

func TestFactory_MutateOnce_PoolFallback(t *testing.T) {
	f := newTestFactory(t, &fakeEval{})
	id, _ := f.Intake([]byte("INSERT INTO t1 VALUES (9410);"), 2)

	art := f.Pool.Add(id)
	res := f.MutateOnce()

	assert.True(t, res.IsRandom, "empty ready queue falls back to the pool")
	assert.Equal(t, id, res.SeedID)
	assert.Equal(t, art.MutatorID, res.MutatorID)
	assert.Equal(t, "INSERT INTO t1 VALUES (123);", string(res.Bytes))
	assert.False(t, res.Errored)
	assert.Equal(t, 1, f.Registry.MutationCount(id))
}

func TestFactory_MutateOnce_ReadyFirst(t *testing.T) {
	f := newTestFactory(t, &fakeEval{})
	id, _ := f.Intake([]byte("INSERT INTO t1 VALUES (9410);"), 2)

	art := f.Pool.Add(id)
	f.ReadyQ.Put(art)

	res := f.MutateOnce()
	assert.False(t, res.IsRandom, "ready queue is preferred over the pool")
	assert.Equal(t, 0, f.ReadyQ.Len())
}

func TestFactory_MutateOnce_DegradedOnError(t *testing.T) {
	eval := &fakeEval{invokeFn: func(call int, path string) (string, error) {
		return "", errors.New("Traceback: boom")
	}}
	f := newTestFactory(t, eval)

	buf := []byte("INSERT INTO t1 VALUES (9410);")
	id, _ := f.Intake(buf, 2)
	art := f.Pool.Add(id)

	res := f.MutateOnce()
	assert.True(t, res.Errored)
	assert.Equal(t, buf, res.Bytes, "degraded result is the seed itself")
	assert.True(t, art.ErrorFlag)
	assert.Equal(t, 1, f.Registry.MutationCount(id), "errored dispatches count as mutations")
}

func TestFactory_MutateOnce_BlocksUntilReady(t *testing.T) {
	f := newTestFactory(t, &fakeEval{})
	id, _ := f.Intake([]byte("INSERT INTO t1 VALUES (9410);"), 2)

	done := make(chan *Result, 1)
	go func() {
		done <- f.MutateOnce()
	}()

	select {
	case <-done:
		t.Fatal("MutateOnce must block while ready queue and pool are both empty")
	case <-time.After(30 * time.Millisecond):
	}

	f.ReadyQ.Put(f.Pool.Add(id))
	select {
	case res := <-done:
		assert.NotEmpty(t, res.Bytes)
	case <-time.After(2 * time.Second):
		t.Fatal("MutateOnce did not wake up")
	}
}

func TestFactory_EndToEnd(t *testing.T) {
	f := newTestFactory(t, &fakeEval{})
	f.StartWorkers()

	budget := f.Cfg.Others.MutateBudget
	id, isNew := f.Intake([]byte("INSERT INTO t1 VALUES (9410);"), budget)
	require.True(t, isNew)

	// The pipeline runs in the background; MutateOnce blocks until the
	// fixer registers the artifact and fans out the budget copies.
	for i := 0; i < budget; i++ {
		res := f.MutateOnce()
		assert.NotEmpty(t, res.Bytes)
		assert.Equal(t, id, res.SeedID)
		assert.False(t, res.Errored)
	}

	assert.Equal(t, 1, f.Pool.Len())
	assert.Equal(t, budget, f.Registry.MutationCount(id))
	assert.True(t, f.Registry.IsAnnotated(id))

	// With the ready queue drained, dispatch degrades to random pool
	// selection so the host is never starved.
	res := f.MutateOnce()
	assert.True(t, res.IsRandom)
}

func TestFactory_EndToEnd_Structural(t *testing.T) {
	f := newTestFactory(t, &fakeEval{})
	f.Cfg.Others.StructuralCadence = 1 // every selection goes structural
	f.StartWorkers()

	_, isNew := f.Intake([]byte("SELECT 1;"), 2)
	require.True(t, isNew)

	// The structural rewrite becomes a new seed whose artifacts arrive
	// on the ready queue like any other seed's.
	res := f.MutateOnce()
	assert.NotEmpty(t, res.Bytes)
	assert.True(t, res.FromStructural)

	newSeed := f.Registry.Lookup(res.SeedID)
	require.NotNil(t, newSeed)
	assert.True(t, newSeed.FromStructural)
	assert.Equal(t, "SELECT 1 UNION SELECT 2;", newSeed.Text)
}
