// Package host adapts the mutation factory to the fuzzer host's
// callback ABI: init, fuzz_count, fuzz, splice_optout and deinit.
package host

import (
	"time"

	"github.com/zjy-dev/sqlforge/internal/factory"
	"github.com/zjy-dev/sqlforge/internal/telemetry"
)

// Adapter implements the host callbacks on top of a factory. It owns
// the fuzz_count intake and the fuzz hot path.
type Adapter struct {
	f *factory.Factory
}

// NewAdapter wraps a constructed factory.
func NewAdapter(f *factory.Factory) *Adapter {
	return &Adapter{f: f}
}

// Factory exposes the underlying factory, mainly for the driver tool.
func (a *Adapter) Factory() *factory.Factory {
	return a.f
}

// Init starts the worker groups. The host's rng seed is accepted for ABI
// compatibility and ignored; returns 0 on success.
func (a *Adapter) Init(rngSeed uint32) int {
	_ = rngSeed
	a.f.StartWorkers()
	a.f.Logs.Main.Info("factory initialized")
	return 0
}

// FuzzCount hands the offered bytes to the factory's intake (which
// registers the seed and routes it into the pipeline) and returns the
// configured mutation budget.
// The call never blocks on the pipeline.
func (a *Adapter) FuzzCount(buf []byte) int {
	a.f.NextFuzzCount()
	budget := a.f.Cfg.Others.MutateBudget
	a.f.Intake(buf, budget)
	return budget
}

// Fuzz returns one mutated payload of length at most maxSize. The
// splice buffer is ignored; splicing is opted out.
func (a *Adapter) Fuzz(buf, addBuf []byte, maxSize int) []byte {
	_ = addBuf
	fuzzStart := time.Now()
	fuzzNumber := a.f.NextFuzz()

	res := a.f.MutateOnce()

	out := res.Bytes
	oriSize := len(out)
	isCut := false
	if len(out) > maxSize {
		out = out[:maxSize]
		isCut = true
		a.f.Logs.Main.Warn("mutation output truncated from %d to %d bytes", oriSize, maxSize)
	}

	nowSeedID := -1
	if id, ok := a.f.Registry.IndexOf(buf); ok {
		nowSeedID = id
	}

	if a.f.Sinks != nil && a.f.Sinks.Main != nil {
		row := []string{
			telemetry.F(float64(time.Now().UnixNano()) / 1e9),
			telemetry.F(time.Since(a.f.Start).Seconds()),
			telemetry.I(a.f.FuzzCountCalls()),
			telemetry.I(fuzzNumber),
			telemetry.B(res.IsRandom),
			telemetry.F(time.Since(fuzzStart).Seconds()),
			telemetry.I(nowSeedID),
			telemetry.I(res.SeedID),
			telemetry.I(res.MutatorID),
			telemetry.I(a.f.ReadyQ.Len()),
			telemetry.I(oriSize),
			telemetry.I(len(out)),
			telemetry.B(isCut),
			telemetry.B(res.Errored),
			telemetry.B(res.FromStructural),
		}
		if err := a.f.Sinks.Main.Append(row); err != nil {
			a.f.Logs.Main.Warn("failed to append main telemetry: %v", err)
		}
	}

	return out
}

// SpliceOptOut marks that splicing is unused; its presence alone informs
// the host.
func (a *Adapter) SpliceOptOut() {}

// Deinit flushes telemetry and logs. Background workers terminate at
// process exit.
func (a *Adapter) Deinit() {
	a.f.Logs.Main.Info("fuzzing finished")
	a.f.Close()
}
