// Package sanitize screens user input before it can reach an LLM prompt:
// prompt-injection detection over normalized text, plus escaping of
// delimiters that could break out of prompt templates.
package sanitize

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// builtinPatterns is the built-in prompt-injection pattern list. The set
// is pluggable: additional patterns load from a configured file. Matching
// is case-insensitive over NFKC-normalized input, so homoglyph spacing
// tricks collapse before the regexes run.
var builtinPatterns = []string{
	`ignore (all )?(the )?(previous|prior|above) (instructions|prompts|rules)`,
	`disregard (all )?(the )?(previous|prior|above) (instructions|prompts|rules)`,
	`forget (everything|all|your) (instructions|rules|training)`,
	`system prompt`,
	`you are now`,
	`act as (if|though) you`,
	`pretend (to be|you are)`,
	`new instructions?:`,
	`override (the )?(system|safety|previous)`,
	`\bjailbreak\b`,
	`do anything now`,
	`reveal (your|the) (prompt|instructions|rules)`,
	`</?(system|assistant|instruction)>`,
}

// CompiledPattern holds a pre-compiled injection pattern.
type CompiledPattern struct {
	Name  string
	Regex *regexp.Regexp
}

// Screener detects prompt-injection attempts in user responses.
type Screener struct {
	patterns []*CompiledPattern
}

// NewScreener compiles the built-in patterns plus any extras from
// patternsPath (one regex per line; blank lines and # comments skipped).
// An empty path loads the built-ins only.
func NewScreener(patternsPath string) (*Screener, error) {
	s := &Screener{}
	for i, p := range builtinPatterns {
		compiled, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			// A broken built-in is a programming error; skip and log so one
			// bad entry cannot disable the rest of the screen.
			slog.Error("Failed to compile built-in injection pattern, skipping",
				"index", i, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:  fmt.Sprintf("builtin:%d", i),
			Regex: compiled,
		})
	}

	if patternsPath != "" {
		if err := s.loadExtraPatterns(patternsPath); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Screener) loadExtraPatterns(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open injection patterns file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		compiled, err := regexp.Compile(`(?i)` + line)
		if err != nil {
			return fmt.Errorf("invalid injection pattern at %s:%d: %w", path, lineNo, err)
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:  fmt.Sprintf("%s:%d", path, lineNo),
			Regex: compiled,
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read injection patterns file: %w", err)
	}
	return nil
}

// Detect returns the name of the first matching pattern, or "" when the
// input is clean.
func (s *Screener) Detect(input string) string {
	normalized := norm.NFKC.String(input)
	for _, p := range s.patterns {
		if p.Regex.MatchString(normalized) {
			return p.Name
		}
	}
	return ""
}
