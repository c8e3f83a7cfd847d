// Package telemetry appends per-task rows to tab-delimited stage sinks.
package telemetry

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Fixed header rows, one per sink.
var (
	ParserHeader = []string{
		"real_time", "relative_time", "seed_id", "need_mutate_count",
		"is_parsed", "llm_use_time", "up_token", "down_token", "llm_count",
		"llm_format_error_count", "all_use_time", "select_count",
		"left_parser_queue_count",
	}
	GeneratorHeader = []string{
		"real_time", "relative_time", "seed_id", "all_use_time",
		"llm_use_time", "llm_up_token", "llm_down_token", "llm_count",
		"llm_format_error_count", "left_fix_queue_count",
	}
	FixerHeader = []string{
		"real_time", "relative_time", "seed_id", "mutator_id",
		"need_mutate_count", "all_use_time", "all_llm_count", "is_success",
		"syntax_use_time", "syntax_error_count", "syntax_format_error_count",
		"syntax_llm_use_time", "syntax_llm_count", "syntax_up_token",
		"syntax_down_token", "semantic_use_time", "semantic_mask_error_count",
		"semantic_random_error_count", "semantic_error_count",
		"semantic_llm_use_time", "semantic_llm_count",
		"semantic_format_error_count", "semantic_up_token",
		"semantic_down_token", "left_fix_queue_count",
	}
	StructuralHeader = []string{
		"real_time", "relative_time", "seed_id", "new_seed_id",
		"all_use_time", "llm_up_token", "llm_down_token", "llm_count",
		"llm_format_error_count", "llm_use_time", "is_fallback",
		"left_structural_queue_count",
	}
	MainHeader = []string{
		"real_time", "relative_time", "fuzz_count_number", "fuzz_number",
		"is_by_random", "fuzz_use_time", "now_seed_id", "real_fuzz_seed_id",
		"real_mutator_id", "left_ready_queue_count", "ori_mutate_out_size",
		"real_mutate_out_size", "is_cut", "is_error_occur",
		"is_from_structural",
	}
)

// Sink is one append-only tab-delimited file with a fixed header row and
// an append mutex.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// NewSink opens (or creates) the file at path and writes the header row.
func NewSink(path string, header []string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry file: %w", err)
	}

	w := csv.NewWriter(file)
	w.Comma = '\t'
	if err := w.Write(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write telemetry header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to flush telemetry header: %w", err)
	}

	return &Sink{file: file, w: w}, nil
}

// Append writes one record and flushes it to disk.
func (s *Sink) Append(record []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(record); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

// Close flushes and closes the sink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.file.Close()
}

// Set groups the five stage sinks.
type Set struct {
	Main       *Sink
	Parser     *Sink
	Generator  *Sink
	Fixer      *Sink
	Structural *Sink
}

// NewSet opens all five sinks.
func NewSet(mainPath, parserPath, generatorPath, fixerPath, structuralPath string) (*Set, error) {
	set := &Set{}
	var err error
	if set.Main, err = NewSink(mainPath, MainHeader); err != nil {
		return nil, err
	}
	if set.Parser, err = NewSink(parserPath, ParserHeader); err != nil {
		set.Close()
		return nil, err
	}
	if set.Generator, err = NewSink(generatorPath, GeneratorHeader); err != nil {
		set.Close()
		return nil, err
	}
	if set.Fixer, err = NewSink(fixerPath, FixerHeader); err != nil {
		set.Close()
		return nil, err
	}
	if set.Structural, err = NewSink(structuralPath, StructuralHeader); err != nil {
		set.Close()
		return nil, err
	}
	return set, nil
}

// Close closes every open sink in the set.
func (s *Set) Close() {
	for _, sink := range []*Sink{s.Main, s.Parser, s.Generator, s.Fixer, s.Structural} {
		if sink != nil {
			sink.Close()
		}
	}
}

// F formats a duration or timestamp in seconds.
func F(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 3, 64)
}

// I formats an integer column.
func I(v int) string {
	return strconv.Itoa(v)
}

// B formats a boolean column as 0/1.
func B(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
