// Package seed owns the registry of every test case the host has ever
// offered, plus the mask-token vocabulary embedded in annotated seeds.
package seed

import "strings"

// Seed is one distinct byte-string submitted by the fuzzer host (or
// produced by the structural stage). Bytes and ID are immutable once the
// seed is registered; the remaining fields are derived state guarded by
// the registry lock.
type Seed struct {
	ID    int
	Bytes []byte
	Text  string

	Annotated      string
	IsAnnotated    bool
	SelectionCount int
	MutationCount  int
	FromStructural bool
}

// decodeText converts seed bytes to UTF-8 text, replacing invalid
// sequences rather than rejecting the seed.
func decodeText(buf []byte) string {
	return strings.ToValidUTF8(string(buf), "�")
}
