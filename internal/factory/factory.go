// Package factory assembles the mutation pipeline: the seed registry,
// the mutator pool, the five queues, the telemetry sinks and the stage
// worker groups. The factory is an explicit value owned by the host
// adapter and handed to every worker at construction.
package factory

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zjy-dev/sqlforge/internal/config"
	"github.com/zjy-dev/sqlforge/internal/llm"
	"github.com/zjy-dev/sqlforge/internal/logger"
	"github.com/zjy-dev/sqlforge/internal/mutator"
	"github.com/zjy-dev/sqlforge/internal/queue"
	"github.com/zjy-dev/sqlforge/internal/sandbox"
	"github.com/zjy-dev/sqlforge/internal/seed"
	"github.com/zjy-dev/sqlforge/internal/stage"
	"github.com/zjy-dev/sqlforge/internal/telemetry"
)

// degradedSQL is returned when a dispatch fails and the owning seed has
// no bytes to fall back to. The host loop must never be stalled.
const degradedSQL = "SELECT 1;"

// Logs groups the per-stage loggers.
type Logs struct {
	Main       *logger.Logger
	Parser     *logger.Logger
	Generator  *logger.Logger
	Fixer      *logger.Logger
	Structural *logger.Logger
	LLM        *logger.Logger
}

// Result is the outcome of one mutate_once dispatch.
type Result struct {
	Bytes          []byte
	IsRandom       bool
	SeedID         int
	MutatorID      int
	Errored        bool
	FromStructural bool
}

// Factory owns all pipeline state.
type Factory struct {
	Cfg      *config.Config
	Registry *seed.Registry
	Pool     *mutator.Pool

	ParseQ      *queue.Queue[stage.Task]
	GenerateQ   *queue.Queue[stage.Task]
	FixQ        *queue.Queue[stage.FixTask]
	ReadyQ      *queue.Queue[*mutator.Artifact]
	StructuralQ *queue.Queue[stage.Task]

	Sinks *telemetry.Set
	Logs  Logs
	LLM   llm.Client
	Eval  sandbox.Evaluator
	Start time.Time

	fuzzCountCalls atomic.Int64
	fuzzCalls      atomic.Int64
	started        atomic.Bool
}

// New builds a fully wired factory: directories prepared, loggers and
// telemetry opened, real LLM client and Python evaluator constructed.
func New(cfg *config.Config) (*Factory, error) {
	if err := cfg.PrepareDirectories(); err != nil {
		return nil, err
	}

	logs, err := openLogs(cfg)
	if err != nil {
		return nil, err
	}

	client := llm.NewChatClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, logs.LLM)
	eval, err := sandbox.NewPythonEvaluator(cfg.Others.PythonPath, cfg.FilePath.MutatorFixTmpPath, nil)
	if err != nil {
		return nil, err
	}

	return NewWithClients(cfg, client, eval, logs)
}

// NewWithClients builds a factory around the given model client and
// evaluator. Tests use it to inject fakes.
func NewWithClients(cfg *config.Config, client llm.Client, eval sandbox.Evaluator, logs Logs) (*Factory, error) {
	if logs.Main == nil {
		logs = consoleLogs(cfg.Log.Level)
	}

	sinks, err := telemetry.NewSet(
		cfg.CSV.MainCSVPath,
		cfg.CSV.ParserCSVPath,
		cfg.CSV.GeneratorCSVPath,
		cfg.CSV.FixerCSVPath,
		cfg.CSV.StructuralCSVPath,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry sinks: %w", err)
	}

	capacity := cfg.Others.QueueCapacity
	return &Factory{
		Cfg:         cfg,
		Registry:    seed.NewRegistry(),
		Pool:        mutator.NewPool(cfg.FilePath.GeneratedMutatorPath),
		ParseQ:      queue.New[stage.Task](capacity),
		GenerateQ:   queue.New[stage.Task](capacity),
		FixQ:        queue.New[stage.FixTask](capacity),
		ReadyQ:      queue.New[*mutator.Artifact](capacity),
		StructuralQ: queue.New[stage.Task](capacity),
		Sinks:       sinks,
		Logs:        logs,
		LLM:         client,
		Eval:        eval,
		Start:       time.Now(),
	}, nil
}

// openLogs opens the per-stage log files.
func openLogs(cfg *config.Config) (Logs, error) {
	type logSpec struct {
		name string
		path string
		dst  **logger.Logger
	}

	logs := Logs{}
	specs := []logSpec{
		{"Main", cfg.Log.MainLogPath, &logs.Main},
		{"Parser", cfg.Log.ParserLogPath, &logs.Parser},
		{"Generator", cfg.Log.GeneratorLogPath, &logs.Generator},
		{"Fixer", cfg.Log.FixerLogPath, &logs.Fixer},
		{"Structural", cfg.Log.StructuralLogPath, &logs.Structural},
		{"LLM", cfg.Log.LLMLogPath, &logs.LLM},
	}
	for _, spec := range specs {
		l, err := logger.New(spec.name, spec.path, cfg.Log.Level)
		if err != nil {
			return Logs{}, fmt.Errorf("failed to open %s log: %w", spec.name, err)
		}
		*spec.dst = l
	}
	return logs, nil
}

// consoleLogs builds console-only loggers for tests and tools.
func consoleLogs(level string) Logs {
	return Logs{
		Main:       logger.NewConsole("Main", level),
		Parser:     logger.NewConsole("Parser", level),
		Generator:  logger.NewConsole("Generator", level),
		Fixer:      logger.NewConsole("Fixer", level),
		Structural: logger.NewConsole("Structural", level),
		LLM:        logger.NewConsole("LLM", level),
	}
}

// StartWorkers launches the configured worker groups. Workers are
// daemonic: they live until the process exits.
func (f *Factory) StartWorkers() {
	if !f.started.CompareAndSwap(false, true) {
		return
	}

	for i := 0; i < f.Cfg.Workers.Parser; i++ {
		p := &stage.Parser{
			Registry:         f.Registry,
			LLM:              f.LLM,
			In:               f.ParseQ,
			Out:              f.GenerateQ,
			Sink:             f.Sinks.Parser,
			Log:              f.Logs.Parser,
			DBMS:             f.Cfg.Target.DBMS,
			DBMSVersion:      f.Cfg.Target.DBMSVersion,
			ParsedDir:        f.Cfg.FilePath.ParsedSQLPath,
			MaxFormatRetries: f.Cfg.Others.LLMFormatErrorMaxRetry,
			Start:            f.Start,
		}
		f.startWorker("parser", p.RunOne)
	}

	for i := 0; i < f.Cfg.Workers.Generator; i++ {
		g := &stage.Generator{
			Registry:         f.Registry,
			LLM:              f.LLM,
			In:               f.GenerateQ,
			Out:              f.FixQ,
			Sink:             f.Sinks.Generator,
			Log:              f.Logs.Generator,
			DBMS:             f.Cfg.Target.DBMS,
			DBMSVersion:      f.Cfg.Target.DBMSVersion,
			MaxFormatRetries: f.Cfg.Others.LLMFormatErrorMaxRetry,
			Start:            f.Start,
		}
		f.startWorker("generator", g.RunOne)
	}

	for i := 0; i < f.Cfg.Workers.Fixer; i++ {
		fx := &stage.Fixer{
			Registry:         f.Registry,
			Pool:             f.Pool,
			LLM:              f.LLM,
			Eval:             f.Eval,
			In:               f.FixQ,
			Ready:            f.ReadyQ,
			Sink:             f.Sinks.Fixer,
			Log:              f.Logs.Fixer,
			WorkerID:         i,
			TmpDir:           f.Cfg.FilePath.MutatorFixTmpPath,
			TryLimit:         f.Cfg.Others.FixMutatorTryTime,
			MaxFormatRetries: f.Cfg.Others.LLMFormatErrorMaxRetry,
			Start:            f.Start,
		}
		f.startWorker("fixer", fx.RunOne)
	}

	for i := 0; i < f.Cfg.Workers.Structural; i++ {
		st := &stage.Structural{
			Registry:         f.Registry,
			LLM:              f.LLM,
			In:               f.StructuralQ,
			Parse:            f.ParseQ,
			Sink:             f.Sinks.Structural,
			Log:              f.Logs.Structural,
			DBMS:             f.Cfg.Target.DBMS,
			DBMSVersion:      f.Cfg.Target.DBMSVersion,
			OutDir:           f.Cfg.FilePath.StructuralMutatePath,
			MaxFormatRetries: f.Cfg.Others.LLMFormatErrorMaxRetry,
			Start:            f.Start,
		}
		f.startWorker("structural", st.RunOne)
	}

	f.Logs.Main.Info("worker groups started: parser=%d generator=%d fixer=%d structural=%d",
		f.Cfg.Workers.Parser, f.Cfg.Workers.Generator,
		f.Cfg.Workers.Fixer, f.Cfg.Workers.Structural)
}

// startWorker loops runOne forever, recovering from panics so a broken
// task can never take the process down.
func (f *Factory) startWorker(name string, runOne func()) {
	go func() {
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						f.Logs.Main.Error("%s worker recovered from panic: %v", name, r)
					}
				}()
				runOne()
			}()
		}
	}()
}

// Intake registers the host-offered bytes and routes the seed: every Kth
// selection goes to the structural queue, everything else to parse. The
// call never blocks; if the destination queue is full the task is
// dropped (the seed stays registered and is re-offered on its next
// selection).
func (f *Factory) Intake(buf []byte, budget int) (int, bool) {
	id, isNew, selections := f.Registry.Intake(buf)
	f.Logs.Main.Info("seed %d: intake (new=%v, selections=%d)", id, isNew, selections)

	task := stage.Task{SeedID: id, Budget: budget}
	if selections%f.Cfg.Others.StructuralCadence == 0 {
		if !f.StructuralQ.TryPut(task) {
			f.Logs.Main.Warn("seed %d: structural queue full, task dropped", id)
		}
		return id, isNew
	}
	if !f.ParseQ.TryPut(task) {
		f.Logs.Main.Warn("seed %d: parse queue full, task dropped", id)
	}
	return id, isNew
}

// MutateOnce selects a dispatchable artifact (ready queue first, then a
// random pool pick, then blocking on ready) and invokes it. Evaluator
// failures are caught and reported as a degraded result so the host loop
// is never stalled.
func (f *Factory) MutateOnce() *Result {
	art, ok := f.ReadyQ.TryGet()
	isRandom := false
	if !ok {
		if a := f.Pool.RandomSelect(); a != nil {
			art, isRandom = a, true
		} else {
			f.Logs.Main.Warn("ready queue and pool both empty, blocking until an artifact arrives")
			art = f.ReadyQ.Get()
		}
	}

	// Errored dispatches count as mutations too.
	f.Registry.RecordMutation(art.SeedID)

	res := &Result{
		IsRandom:  isRandom,
		SeedID:    art.SeedID,
		MutatorID: art.MutatorID,
	}
	sd := f.Registry.Lookup(art.SeedID)
	if sd != nil {
		res.FromStructural = sd.FromStructural
	}

	out, err := f.Eval.Invoke(art.FilePath)
	if err != nil {
		f.Pool.RecordError(art)
		res.Errored = true
		if sd != nil && len(sd.Bytes) > 0 {
			res.Bytes = sd.Bytes
		} else {
			res.Bytes = []byte(degradedSQL)
		}
		f.Logs.Main.Error("seed %d mutator %d: dispatch failed, degraded result returned: %v",
			art.SeedID, art.MutatorID, err)
		return res
	}

	res.Bytes = []byte(out)
	return res
}

// NextFuzzCount increments and returns the fuzz_count call counter.
func (f *Factory) NextFuzzCount() int {
	return int(f.fuzzCountCalls.Add(1))
}

// NextFuzz increments and returns the fuzz call counter.
func (f *Factory) NextFuzz() int {
	return int(f.fuzzCalls.Add(1))
}

// FuzzCountCalls returns how many times fuzz_count has been called.
func (f *Factory) FuzzCountCalls() int {
	return int(f.fuzzCountCalls.Load())
}

// FuzzCalls returns how many times fuzz has been called.
func (f *Factory) FuzzCalls() int {
	return int(f.fuzzCalls.Load())
}

// Close flushes telemetry and log files. Background workers terminate
// with the process.
func (f *Factory) Close() {
	if f.Sinks != nil {
		f.Sinks.Close()
	}
	for _, l := range []*logger.Logger{
		f.Logs.Main, f.Logs.Parser, f.Logs.Generator,
		f.Logs.Fixer, f.Logs.Structural, f.Logs.LLM,
	} {
		if l != nil {
			l.Close()
		}
	}
}
