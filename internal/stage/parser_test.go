package stage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/sqlforge/internal/llm"
	"github.com/zjy-dev/sqlforge/internal/queue"
	"github.com/zjy-dev/sqlforge/internal/seed"
)

const annotatedCreate = `CREATE TABLE t(x [KEYWORD, number:1, context:column_type, ori:INT]);`

func newParser(t *testing.T, reg *seed.Registry, client llm.Client) (*Parser, *queue.Queue[Task], *queue.Queue[Task]) {
	t.Helper()
	in := queue.New[Task](8)
	out := queue.New[Task](8)
	p := &Parser{
		Registry:         reg,
		LLM:              client,
		In:               in,
		Out:              out,
		Log:              testLogger("Parser"),
		DBMS:             "MySQL",
		DBMSVersion:      "8.0.30",
		ParsedDir:        t.TempDir(),
		MaxFormatRetries: 3,
		Start:            testStart(),
	}
	return p, in, out
}

func TestParser_AnnotatesAndForwards(t *testing.T) {
	reg := seed.NewRegistry()
	id, _, _ := reg.Intake([]byte("CREATE TABLE t(x INT);"))

	client := &fakeLLM{fn: func(call int, system, user string) (*llm.Result, error) {
		assert.Contains(t, user, "CREATE TABLE t(x INT);")
		assert.Contains(t, user, "MySQL")
		return &llm.Result{Body: fenced("sql", annotatedCreate), UpTokens: 10, DownTokens: 20}, nil
	}}

	p, in, out := newParser(t, reg, client)
	in.Put(Task{SeedID: id, Budget: 64})
	p.RunOne()

	assert.True(t, reg.IsAnnotated(id))
	assert.Equal(t, annotatedCreate, reg.Annotated(id))

	task, ok := out.TryGet()
	require.True(t, ok, "task must be forwarded to the generator")
	assert.Equal(t, id, task.SeedID)
	assert.Equal(t, 64, task.Budget)

	data, err := os.ReadFile(filepath.Join(p.ParsedDir, "0.txt"))
	require.NoError(t, err)
	assert.Equal(t, annotatedCreate, string(data))
}

func TestParser_SkipsAnnotatedSeeds(t *testing.T) {
	reg := seed.NewRegistry()
	id, _, _ := reg.Intake([]byte("SELECT 1;"))
	_, err := reg.RecordAnnotation(id, "already")
	require.NoError(t, err)

	client := &fakeLLM{fn: func(call int, system, user string) (*llm.Result, error) {
		t.Fatal("annotated seeds must not trigger LLM calls")
		return nil, nil
	}}

	p, in, out := newParser(t, reg, client)
	in.Put(Task{SeedID: id, Budget: 8})
	p.RunOne()

	assert.Equal(t, 0, client.callCount())
	assert.Equal(t, "already", reg.Annotated(id))

	task, ok := out.TryGet()
	require.True(t, ok)
	assert.Equal(t, id, task.SeedID)
}

func TestParser_RetriesFormatErrors(t *testing.T) {
	reg := seed.NewRegistry()
	id, _, _ := reg.Intake([]byte("SELECT 1;"))

	client := &fakeLLM{fn: func(call int, system, user string) (*llm.Result, error) {
		if call < 3 {
			return &llm.Result{Body: "no fenced block here"}, nil
		}
		return &llm.Result{Body: fenced("sql", "SELECT [CONSTANT, number:1, type:int, ori:1];")}, nil
	}}

	p, in, out := newParser(t, reg, client)
	in.Put(Task{SeedID: id, Budget: 4})
	p.RunOne()

	assert.Equal(t, 4, client.callCount(), "three malformed bodies then one valid")
	assert.True(t, reg.IsAnnotated(id))
	_, ok := out.TryGet()
	assert.True(t, ok)
}

func TestParser_DiscardsOnCeiling(t *testing.T) {
	reg := seed.NewRegistry()
	id, _, _ := reg.Intake([]byte("SELECT 1;"))

	client := &fakeLLM{fn: func(call int, system, user string) (*llm.Result, error) {
		return nil, errors.New("network down")
	}}

	p, in, out := newParser(t, reg, client)
	p.MaxFormatRetries = 1
	in.Put(Task{SeedID: id, Budget: 4})
	p.RunOne()

	assert.Equal(t, 2, client.callCount())
	assert.False(t, reg.IsAnnotated(id))
	_, ok := out.TryGet()
	assert.False(t, ok, "exhausted tasks are discarded, not forwarded")
}

func TestParser_EmptySeed(t *testing.T) {
	reg := seed.NewRegistry()
	id, _, _ := reg.Intake([]byte{})

	client := &fakeLLM{fn: func(call int, system, user string) (*llm.Result, error) {
		return &llm.Result{Body: fenced("sql", "")}, nil
	}}

	p, in, out := newParser(t, reg, client)
	in.Put(Task{SeedID: id, Budget: 4})
	p.RunOne()

	assert.True(t, reg.IsAnnotated(id))
	assert.Equal(t, "", reg.Annotated(id))
	_, ok := out.TryGet()
	assert.True(t, ok, "empty seeds flow through without deadlock")
}
