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

// Structural rewrites a whole seed into a new test case and feeds it
// back into the pipeline as a fresh seed. Format errors are retried up
// to a ceiling; on exhaustion the original SQL is used as-is so the
// task always produces a seed.
type Structural struct {
	Registry *seed.Registry
	LLM      llm.Client
	In       *queue.Queue[Task]
	Parse    *queue.Queue[Task]
	Sink     *telemetry.Sink
	Log      *logger.Logger

	DBMS             string
	DBMSVersion      string
	OutDir           string
	MaxFormatRetries int
	Start            time.Time

	// count numbers this worker's output files.
	count int
}

// Run consumes tasks until the process exits.
func (s *Structural) Run() {
	s.Log.Info("structural worker started")
	for {
		s.RunOne()
	}
}

// RunOne handles a single structural rewrite.
func (s *Structural) RunOne() {
	task := s.In.Get()
	allStart := time.Now()
	s.count++

	var (
		llmTime      float64
		upTokens     int
		downTokens   int
		llmCount     int
		formatErrors int
		fallback     bool
	)

	s.Log.Info("seed %d: structural task received", task.SeedID)

	sd := s.Registry.Lookup(task.SeedID)
	if sd == nil {
		s.Log.Error("seed %d: not found in registry", task.SeedID)
		return
	}

	rewritten := ""
	userPrompt := prompt.StructuralRewrite(sd.Text, s.DBMS, s.DBMSVersion)
	for formatErrors <= s.MaxFormatRetries {
		callStart := time.Now()
		res, err := s.LLM.Chat(prompt.StructuralSystem, userPrompt)
		llmTime += since(callStart)
		llmCount++
		if err != nil {
			formatErrors++
			s.Log.Warn("seed %d: structural call failed: %v", task.SeedID, err)
			continue
		}
		upTokens += res.UpTokens
		downTokens += res.DownTokens

		blocks, err := llm.ExtractFenced(res.Body, "sql")
		if err != nil {
			formatErrors++
			s.Log.Warn("seed %d: no sql block in structural response, retrying", task.SeedID)
			continue
		}
		rewritten = blocks[0]
		break
	}

	if rewritten == "" {
		// Ceiling hit: fall back to the original test case so the seed
		// still re-enters the pipeline.
		fallback = true
		rewritten = sd.Text
		s.Log.Warn("seed %d: structural rewrite fell back to the original SQL", task.SeedID)
	}

	newID, isNew := s.Registry.Insert([]byte(rewritten), true)
	s.Log.Info("seed %d: structural rewrite produced seed %d (new=%v)", task.SeedID, newID, isNew)

	if err := s.persist(task.SeedID, newID, rewritten); err != nil {
		s.Log.Warn("seed %d: failed to persist structural output: %v", task.SeedID, err)
	}

	// The new seed's lifecycle is identical to a fresh host-supplied one.
	s.Parse.Put(Task{SeedID: newID, Budget: task.Budget})

	if s.Sink != nil {
		row := []string{
			telemetry.F(realTime()),
			telemetry.F(since(s.Start)),
			telemetry.I(task.SeedID),
			telemetry.I(newID),
			telemetry.F(since(allStart)),
			telemetry.I(upTokens),
			telemetry.I(downTokens),
			telemetry.I(llmCount),
			telemetry.I(formatErrors),
			telemetry.F(llmTime),
			telemetry.B(fallback),
			telemetry.I(s.In.Len()),
		}
		if err := s.Sink.Append(row); err != nil {
			s.Log.Warn("failed to append structural telemetry: %v", err)
		}
	}
}

// persist writes the rewritten seed under a deterministic filename.
func (s *Structural) persist(oldID, newID int, rewritten string) error {
	path := filepath.Join(s.OutDir, fmt.Sprintf("%d_%d_%d.txt", s.count, oldID, newID))
	return os.WriteFile(path, []byte(rewritten), 0644)
}
