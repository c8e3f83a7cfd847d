package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjy-dev/sqlforge/internal/llm"
	"github.com/zjy-dev/sqlforge/internal/logger"
	"github.com/zjy-dev/sqlforge/internal/prompt"
	"github.com/zjy-dev/sqlforge/internal/queue"
	"github.com/zjy-dev/sqlforge/internal/seed"
	"github.com/zjy-dev/sqlforge/internal/telemetry"
)

// Parser annotates raw SQL seeds with typed mask tokens. Seeds that are
// already annotated pass straight through to the generator queue.
type Parser struct {
	Registry *seed.Registry
	LLM      llm.Client
	In       *queue.Queue[Task]
	Out      *queue.Queue[Task]
	Sink     *telemetry.Sink
	Log      *logger.Logger

	DBMS             string
	DBMSVersion      string
	ParsedDir        string
	MaxFormatRetries int
	Start            time.Time
}

// Run consumes tasks until the process exits.
func (p *Parser) Run() {
	p.Log.Info("parser worker started")
	for {
		p.RunOne()
	}
}

// RunOne handles a single parse task.
func (p *Parser) RunOne() {
	task := p.In.Get()
	allStart := time.Now()

	var (
		llmTime       float64
		upTokens      int
		downTokens    int
		llmCount      int
		formatErrors  int
		alreadyParsed bool
	)

	p.Log.Info("seed %d: parse task received", task.SeedID)

	if p.Registry.IsAnnotated(task.SeedID) {
		// Re-entrant seeds reuse the prior annotation; exactly one
		// annotation per seed.
		alreadyParsed = true
		p.Log.Info("seed %d: already annotated, forwarding to generator", task.SeedID)
		p.Out.Put(task)
	} else {
		annotated, ok := p.annotate(task, &llmTime, &upTokens, &downTokens, &llmCount, &formatErrors)
		if !ok {
			p.Log.Warn("seed %d: annotation failed after %d format errors, task discarded",
				task.SeedID, formatErrors)
			p.writeRow(task, alreadyParsed, llmTime, upTokens, downTokens, llmCount, formatErrors, allStart)
			return
		}

		if _, err := p.Registry.RecordAnnotation(task.SeedID, annotated); err != nil {
			p.Log.Error("seed %d: failed to record annotation: %v", task.SeedID, err)
			return
		}
		if err := p.persist(task.SeedID, annotated); err != nil {
			p.Log.Warn("seed %d: failed to persist annotation: %v", task.SeedID, err)
		}
		p.Log.Info("seed %d: annotated, forwarding to generator", task.SeedID)
		p.Out.Put(task)
	}

	p.writeRow(task, alreadyParsed, llmTime, upTokens, downTokens, llmCount, formatErrors, allStart)
}

// annotate calls the model until it yields a fenced sql block or the
// format-error ceiling is hit.
func (p *Parser) annotate(task Task, llmTime *float64, upTokens, downTokens, llmCount, formatErrors *int) (string, bool) {
	s := p.Registry.Lookup(task.SeedID)
	if s == nil {
		p.Log.Error("seed %d: not found in registry", task.SeedID)
		return "", false
	}

	userPrompt := prompt.Annotation(s.Text, p.DBMS, p.DBMSVersion)
	for *formatErrors <= p.MaxFormatRetries {
		callStart := time.Now()
		res, err := p.LLM.Chat("", userPrompt)
		*llmTime += since(callStart)
		*llmCount++
		if err != nil {
			*formatErrors++
			p.Log.Warn("seed %d: annotation call failed: %v", task.SeedID, err)
			continue
		}
		*upTokens += res.UpTokens
		*downTokens += res.DownTokens

		blocks, err := llm.ExtractFenced(res.Body, "sql")
		if err != nil {
			*formatErrors++
			p.Log.Warn("seed %d: no sql block in annotation response, retrying", task.SeedID)
			continue
		}
		return blocks[0], true
	}
	return "", false
}

// persist writes the annotated seed under a deterministic per-seed name.
func (p *Parser) persist(seedID int, annotated string) error {
	path := filepath.Join(p.ParsedDir, fmt.Sprintf("%d.txt", seedID))
	return os.WriteFile(path, []byte(annotated), 0644)
}

func (p *Parser) writeRow(task Task, alreadyParsed bool, llmTime float64, upTokens, downTokens, llmCount, formatErrors int, allStart time.Time) {
	if p.Sink == nil {
		return
	}
	row := []string{
		telemetry.F(realTime()),
		telemetry.F(since(p.Start)),
		telemetry.I(task.SeedID),
		telemetry.I(task.Budget),
		telemetry.B(alreadyParsed),
		telemetry.F(llmTime),
		telemetry.I(upTokens),
		telemetry.I(downTokens),
		telemetry.I(llmCount),
		telemetry.I(formatErrors),
		telemetry.F(since(allStart)),
		telemetry.I(p.Registry.SelectionCount(task.SeedID)),
		telemetry.I(p.In.Len()),
	}
	if err := p.Sink.Append(row); err != nil {
		p.Log.Warn("failed to append parser telemetry: %v", err)
	}
}
