package seed

import (
	"fmt"
	"regexp"
	"strconv"
)

// Mask kinds as they appear in annotated SQL.
const (
	MaskConstant = "CONSTANT"
	MaskOperator = "OPERATOR"
	MaskFunction = "FUNCTION"
	MaskKeyword  = "KEYWORD"
)

// MaskToken is one typed annotation embedded in a seed's SQL. The typing
// tag is `type` for constants, `category` for operators and functions,
// and `context` for keywords, but the parser accepts any of the three on
// any kind since the upstream producer is a language model.
type MaskToken struct {
	Kind   string
	Number int
	Tag    string
	Value  string
	Ori    string
	Raw    string
}

// maskPattern matches e.g.
// [CONSTANT, number:3, type:char, ori:0000]
// [KEYWORD, number:1, context:column_type, ori:INT]
// The number field may be absent when the producer omits it.
var maskPattern = regexp.MustCompile(
	`\[(CONSTANT|OPERATOR|FUNCTION|KEYWORD)\s*,\s*(?:number:\s*(\d+)\s*,\s*)?(type|category|context):\s*([^,\]]*?)\s*,\s*ori:\s*([^\]]*?)\s*\]`)

// ParseMasks extracts all mask tokens from annotated SQL in order of
// appearance.
func ParseMasks(annotated string) []MaskToken {
	matches := maskPattern.FindAllStringSubmatch(annotated, -1)
	tokens := make([]MaskToken, 0, len(matches))
	for _, m := range matches {
		number := 0
		if m[2] != "" {
			number, _ = strconv.Atoi(m[2])
		}
		tokens = append(tokens, MaskToken{
			Kind:   m[1],
			Number: number,
			Tag:    m[3],
			Value:  m[4],
			Ori:    m[5],
			Raw:    m[0],
		})
	}
	return tokens
}

// HasMaskTokens reports whether s still contains mask annotations. A
// mutated SQL string handed to the host must never contain any.
func HasMaskTokens(s string) bool {
	return maskPattern.MatchString(s)
}

// ResolveOriginals replaces every mask in annotated SQL with its ori
// literal, reconstructing the unannotated test case.
func ResolveOriginals(annotated string) string {
	return maskPattern.ReplaceAllStringFunc(annotated, func(raw string) string {
		m := maskPattern.FindStringSubmatch(raw)
		return m[5]
	})
}

// ValidateNumbers checks that explicit mask numbers are unique within one
// annotation. Numbers need not be contiguous.
func ValidateNumbers(tokens []MaskToken) error {
	seen := make(map[int]bool)
	for _, t := range tokens {
		if t.Number == 0 {
			continue
		}
		if seen[t.Number] {
			return fmt.Errorf("duplicate mask number %d", t.Number)
		}
		seen[t.Number] = true
	}
	return nil
}
