package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blastrain/vitess-sqlparser/sqlparser"

	"github.com/zjy-dev/sqlforge/internal/llm"
	"github.com/zjy-dev/sqlforge/internal/logger"
	"github.com/zjy-dev/sqlforge/internal/mutator"
	"github.com/zjy-dev/sqlforge/internal/prompt"
	"github.com/zjy-dev/sqlforge/internal/queue"
	"github.com/zjy-dev/sqlforge/internal/sandbox"
	"github.com/zjy-dev/sqlforge/internal/seed"
	"github.com/zjy-dev/sqlforge/internal/telemetry"
)

// variationSamples is how many extra invocations the semantic phase uses
// to confirm the artifact actually varies its output.
const variationSamples = 3

// Fixer repairs generated artifacts in two phases: static soundness
// (the artifact must pass the external checker) and execution soundness
// (its entry point must produce valid, mask-free, varying SQL). Each
// phase has an independent retry budget; artifacts that survive both are
// registered in the pool and fanned out onto the ready queue.
type Fixer struct {
	Registry *seed.Registry
	Pool     *mutator.Pool
	LLM      llm.Client
	Eval     sandbox.Evaluator
	In       *queue.Queue[FixTask]
	Ready    *queue.Queue[*mutator.Artifact]
	Sink     *telemetry.Sink
	Log      *logger.Logger

	WorkerID         int
	TmpDir           string
	TryLimit         int
	MaxFormatRetries int
	Start            time.Time
}

// llmStats accumulates model-call accounting for one fixer phase.
type llmStats struct {
	useTime      float64
	count        int
	formatErrors int
	upTokens     int
	downTokens   int
}

// fixStats accumulates everything one fixer task reports to telemetry.
type fixStats struct {
	syntaxTime     float64
	syntaxErrors   int
	syntax         llmStats
	semanticTime   float64
	maskErrors     int
	randomErrors   int
	semanticErrors int
	semantic       llmStats
}

// Run consumes tasks until the process exits.
func (f *Fixer) Run() {
	f.Log.Info("fixer worker %d started", f.WorkerID)
	for {
		f.RunOne()
	}
}

// RunOne repairs a single artifact.
func (f *Fixer) RunOne() {
	task := f.In.Get()
	allStart := time.Now()
	st := &fixStats{}

	f.Log.Info("seed %d: fix task received", task.SeedID)

	scratch := filepath.Join(f.TmpDir, fmt.Sprintf("fix_%d.py", f.WorkerID))

	code, ok := f.phaseSyntax(task, scratch, st)
	if ok {
		code, ok = f.phaseSemantic(task, code, scratch, st)
	}

	mutatorID := -1
	if ok {
		art := f.Pool.Add(task.SeedID)
		mutatorID = art.MutatorID
		if err := os.WriteFile(art.FilePath, []byte(code), 0644); err != nil {
			f.Log.Error("seed %d: failed to persist mutator %d: %v", task.SeedID, art.MutatorID, err)
		}
		// One ready copy per requested variant: a budget of 64 yields 64
		// dispatchable units.
		for i := 0; i < task.Budget; i++ {
			f.Ready.Put(art)
		}
		f.Log.Info("seed %d: mutator %d registered, %d copies enqueued",
			task.SeedID, art.MutatorID, task.Budget)
	} else {
		f.Log.Warn("seed %d: artifact discarded after its repair budget was exhausted", task.SeedID)
	}

	f.writeRow(task, mutatorID, ok, st, allStart)
}

// phaseSyntax loops the artifact through the static checker until it
// passes or the retry budget is exhausted.
func (f *Fixer) phaseSyntax(task FixTask, scratch string, st *fixStats) (string, bool) {
	phaseStart := time.Now()
	defer func() { st.syntaxTime = since(phaseStart) }()

	code := task.Code
	for attempt := 1; attempt <= f.TryLimit; attempt++ {
		if err := os.WriteFile(scratch, []byte(code), 0644); err != nil {
			f.Log.Error("seed %d: failed to write scratch file: %v", task.SeedID, err)
			return code, false
		}

		err := f.Eval.StaticCheck(scratch)
		if err == nil {
			return code, true
		}
		st.syntaxErrors++
		f.Log.Warn("seed %d: static check failed (attempt %d/%d)", task.SeedID, attempt, f.TryLimit)
		if attempt == f.TryLimit {
			break
		}

		if repaired, ok := f.repair(prompt.SyntaxRepair(code, err.Error()), &st.syntax); ok {
			code = repaired
		}
	}
	return code, false
}

// phaseSemantic invokes the artifact and checks its output: no mask
// residue, syntactically valid SQL, and observable variation across
// calls when the seed carries masks.
func (f *Fixer) phaseSemantic(task FixTask, code, scratch string, st *fixStats) (string, bool) {
	phaseStart := time.Now()
	defer func() { st.semanticTime = since(phaseStart) }()

	annotated := f.Registry.Annotated(task.SeedID)
	oriResolved := seed.ResolveOriginals(annotated)
	hasMasks := len(seed.ParseMasks(annotated)) > 0

	for attempt := 1; attempt <= f.TryLimit; attempt++ {
		if err := os.WriteFile(scratch, []byte(code), 0644); err != nil {
			f.Log.Error("seed %d: failed to write scratch file: %v", task.SeedID, err)
			return code, false
		}

		failure := f.checkExecution(scratch, oriResolved, hasMasks, st)
		if failure == "" {
			return code, true
		}
		f.Log.Warn("seed %d: semantic check failed (attempt %d/%d): %s",
			task.SeedID, attempt, f.TryLimit, firstLine(failure))
		if attempt == f.TryLimit {
			break
		}

		if repaired, ok := f.repair(prompt.SemanticRepair(code, failure), &st.semantic); ok {
			code = repaired
		}
	}
	return code, false
}

// checkExecution performs the execution-soundness checks for one attempt
// and returns an empty string on success, or a failure description for
// the repair prompt.
func (f *Fixer) checkExecution(scratch, oriResolved string, hasMasks bool, st *fixStats) string {
	out, err := f.Eval.Invoke(scratch)
	if err != nil {
		st.semanticErrors++
		return err.Error()
	}

	if seed.HasMaskTokens(out) {
		st.maskErrors++
		return "mask tokens remain in the produced SQL; every mask must be replaced with a concrete value"
	}
	if out != oriResolved && !sqlIsValid(out) {
		st.maskErrors++
		return fmt.Sprintf("the produced SQL does not parse:\n%s", out)
	}

	if hasMasks && !f.hasVariation(scratch, oriResolved) {
		st.randomErrors++
		return "every invocation returned the unmutated test case; at least one mask must be replaced with a non-original candidate"
	}
	return ""
}

// hasVariation samples additional invocations looking for an output that
// differs from the all-original resolution.
func (f *Fixer) hasVariation(scratch, oriResolved string) bool {
	for i := 0; i < variationSamples; i++ {
		out, err := f.Eval.Invoke(scratch)
		if err == nil && out != oriResolved {
			return true
		}
	}
	return false
}

// repair asks the model for a corrected artifact, retrying format errors
// up to the shared ceiling. It reports whether a replacement module was
// obtained.
func (f *Fixer) repair(userPrompt string, ls *llmStats) (string, bool) {
	for ls.formatErrors <= f.MaxFormatRetries {
		callStart := time.Now()
		res, err := f.LLM.Chat("", userPrompt)
		ls.useTime += since(callStart)
		ls.count++
		if err != nil {
			ls.formatErrors++
			f.Log.Warn("repair call failed: %v", err)
			continue
		}
		ls.upTokens += res.UpTokens
		ls.downTokens += res.DownTokens

		blocks, err := llm.ExtractFenced(res.Body, "python")
		if err != nil {
			ls.formatErrors++
			f.Log.Warn("no python block in repair response, retrying")
			continue
		}
		return blocks[0], true
	}
	return "", false
}

func (f *Fixer) writeRow(task FixTask, mutatorID int, ok bool, st *fixStats, allStart time.Time) {
	if f.Sink == nil {
		return
	}
	row := []string{
		telemetry.F(realTime()),
		telemetry.F(since(f.Start)),
		telemetry.I(task.SeedID),
		telemetry.I(mutatorID),
		telemetry.I(task.Budget),
		telemetry.F(since(allStart)),
		telemetry.I(st.syntax.count + st.semantic.count),
		telemetry.B(ok),
		telemetry.F(st.syntaxTime),
		telemetry.I(st.syntaxErrors),
		telemetry.I(st.syntax.formatErrors),
		telemetry.F(st.syntax.useTime),
		telemetry.I(st.syntax.count),
		telemetry.I(st.syntax.upTokens),
		telemetry.I(st.syntax.downTokens),
		telemetry.F(st.semanticTime),
		telemetry.I(st.maskErrors),
		telemetry.I(st.randomErrors),
		telemetry.I(st.semanticErrors),
		telemetry.F(st.semantic.useTime),
		telemetry.I(st.semantic.count),
		telemetry.I(st.semantic.formatErrors),
		telemetry.I(st.semantic.upTokens),
		telemetry.I(st.semantic.downTokens),
		telemetry.I(f.In.Len()),
	}
	if err := f.Sink.Append(row); err != nil {
		f.Log.Warn("failed to append fixer telemetry: %v", err)
	}
}

// sqlIsValid parses every statement of sqlText. Statement splitting is
// on bare semicolons, which is how the artifacts are told to separate
// statements.
func sqlIsValid(sqlText string) bool {
	statements := strings.Split(sqlText, ";")
	parsedAny := false
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := sqlparser.Parse(stmt); err != nil {
			return false
		}
		parsedAny = true
	}
	return parsedAny
}

// firstLine trims a multi-line failure down for log output.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
