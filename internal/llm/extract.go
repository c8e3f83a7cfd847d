package llm

import (
	"errors"
	"regexp"
	"strings"
	"sync"
)

// ErrNoFencedBlock reports that a completion body contained no fenced
// block for the requested tag. Stages treat it as a format error and
// retry the call.
var ErrNoFencedBlock = errors.New("no fenced block in response")

var (
	fencedMu sync.Mutex
	fencedRe = map[string]*regexp.Regexp{}
)

// fencedPattern returns the (cached) regexp matching ```tag fenced blocks.
func fencedPattern(tag string) *regexp.Regexp {
	fencedMu.Lock()
	defer fencedMu.Unlock()
	if re, ok := fencedRe[tag]; ok {
		return re
	}
	re := regexp.MustCompile("(?s)```" + regexp.QuoteMeta(tag) + "[ \t]*\r?\n(.*?)```")
	fencedRe[tag] = re
	return re
}

// ExtractFenced returns the payloads of all fenced blocks tagged tag in
// body, in order of appearance. It returns ErrNoFencedBlock when the body
// contains none.
func ExtractFenced(body, tag string) ([]string, error) {
	matches := fencedPattern(tag).FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil, ErrNoFencedBlock
	}
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, strings.TrimSpace(m[1]))
	}
	return blocks, nil
}
