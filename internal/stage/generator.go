package stage

import (
	"time"

	"github.com/zjy-dev/sqlforge/internal/llm"
	"github.com/zjy-dev/sqlforge/internal/logger"
	"github.com/zjy-dev/sqlforge/internal/prompt"
	"github.com/zjy-dev/sqlforge/internal/queue"
	"github.com/zjy-dev/sqlforge/internal/seed"
	"github.com/zjy-dev/sqlforge/internal/telemetry"
)

// Generator produces a mutator artifact from an annotated seed and hands
// it to the fixer.
type Generator struct {
	Registry *seed.Registry
	LLM      llm.Client
	In       *queue.Queue[Task]
	Out      *queue.Queue[FixTask]
	Sink     *telemetry.Sink
	Log      *logger.Logger

	DBMS             string
	DBMSVersion      string
	MaxFormatRetries int
	Start            time.Time
}

// Run consumes tasks until the process exits.
func (g *Generator) Run() {
	g.Log.Info("generator worker started")
	for {
		g.RunOne()
	}
}

// RunOne handles a single generation task.
func (g *Generator) RunOne() {
	task := g.In.Get()
	allStart := time.Now()

	var (
		llmTime      float64
		upTokens     int
		downTokens   int
		llmCount     int
		formatErrors int
	)

	g.Log.Info("seed %d: generation task received", task.SeedID)

	annotated := g.Registry.Annotated(task.SeedID)
	userPrompt := prompt.MutatorGeneration(annotated, g.DBMS, g.DBMSVersion)

	code := ""
	for formatErrors <= g.MaxFormatRetries {
		callStart := time.Now()
		res, err := g.LLM.Chat("", userPrompt)
		llmTime += since(callStart)
		llmCount++
		if err != nil {
			formatErrors++
			g.Log.Warn("seed %d: generation call failed: %v", task.SeedID, err)
			continue
		}
		upTokens += res.UpTokens
		downTokens += res.DownTokens

		blocks, err := llm.ExtractFenced(res.Body, "python")
		if err != nil {
			formatErrors++
			g.Log.Warn("seed %d: no python block in generation response, retrying", task.SeedID)
			continue
		}
		code = blocks[0]
		break
	}

	if code == "" {
		g.Log.Warn("seed %d: generation failed after %d format errors, task discarded",
			task.SeedID, formatErrors)
	} else {
		g.Log.Info("seed %d: mutator code extracted, forwarding to fixer", task.SeedID)
		g.Out.Put(FixTask{SeedID: task.SeedID, Budget: task.Budget, Code: code})
	}

	if g.Sink != nil {
		row := []string{
			telemetry.F(realTime()),
			telemetry.F(since(g.Start)),
			telemetry.I(task.SeedID),
			telemetry.F(since(allStart)),
			telemetry.F(llmTime),
			telemetry.I(upTokens),
			telemetry.I(downTokens),
			telemetry.I(llmCount),
			telemetry.I(formatErrors),
			telemetry.I(g.Out.Len()),
		}
		if err := g.Sink.Append(row); err != nil {
			g.Log.Warn("failed to append generator telemetry: %v", err)
		}
	}
}
