// Package jsonrepair parses JSON out of model output that may be wrapped in
// markdown fences, prefixed with prose, or mildly malformed. Strategies are
// tried in order from cheapest to most expensive; the final strategy asks a
// model to rewrite the text as valid JSON.
package jsonrepair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ErrUnparseable is returned when every strategy fails.
var ErrUnparseable = errors.New("no strategy produced valid JSON")

// Fixer rewrites free-form text into valid JSON, typically backed by a
// model call. Implementations return the repaired JSON string, or an error
// when nothing could be extracted.
type Fixer interface {
	FixJSON(ctx context.Context, text string) (string, error)
}

// Parser extracts JSON from model output.
type Parser struct {
	fixer  Fixer
	logger *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithFixer enables the model-backed repair strategy.
func WithFixer(f Fixer) Option {
	return func(p *Parser) { p.fixer = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// NewParser creates a parser. Without a Fixer only the local strategies
// run.
func NewParser(opts ...Option) *Parser {
	p := &Parser{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var (
	fencedJSONRe  = regexp.MustCompile("(?is)```json\\s*\n?(.*?)\n?\\s*```")
	fencedPlainRe = regexp.MustCompile("(?s)```\\s*\n?(.*?)\n?\\s*```")
	inlineCodeRe  = regexp.MustCompile("`([^`]*)`")

	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
)

// Parse runs the strategy chain and returns the first valid JSON document
// found, as raw bytes ready for unmarshalling.
func (p *Parser) Parse(ctx context.Context, text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty input", ErrUnparseable)
	}

	type strategy struct {
		name string
		fn   func(context.Context, string) (json.RawMessage, bool)
	}
	strategies := []strategy{
		{"direct", p.tryDirect},
		{"markdown_block", p.tryMarkdownBlock},
		{"cleanup", p.tryCleanup},
	}
	if p.fixer != nil {
		strategies = append(strategies, strategy{"model_fix", p.tryModelFix})
	}

	for _, s := range strategies {
		if out, ok := s.fn(ctx, trimmed); ok {
			p.logger.Debug("parsed model output", "strategy", s.name)
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnparseable, truncate(trimmed, 200))
}

// ParseInto parses and unmarshals into v.
func (p *Parser) ParseInto(ctx context.Context, text string, v any) error {
	raw, err := p.Parse(ctx, text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshalling repaired JSON: %w", err)
	}
	return nil
}

func (p *Parser) tryDirect(_ context.Context, text string) (json.RawMessage, bool) {
	return validate(text)
}

func (p *Parser) tryMarkdownBlock(_ context.Context, text string) (json.RawMessage, bool) {
	for _, re := range []*regexp.Regexp{fencedJSONRe, fencedPlainRe, inlineCodeRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if out, ok := validate(strings.TrimSpace(m[1])); ok {
				return out, true
			}
		}
	}
	return nil, false
}

func (p *Parser) tryCleanup(_ context.Context, text string) (json.RawMessage, bool) {
	cleaned := text
	for _, prefix := range []string{"json:", "result:", "output:", "response:"} {
		if len(cleaned) >= len(prefix) && strings.EqualFold(cleaned[:len(prefix)], prefix) {
			cleaned = strings.TrimSpace(cleaned[len(prefix):])
		}
	}
	cleaned = strings.TrimRight(cleaned, ".")
	cleaned = strings.TrimSpace(cleaned)

	cleaned = replaceSingleQuotes(cleaned)
	cleaned = trailingCommaRe.ReplaceAllString(cleaned, "$1")
	cleaned = bareKeyRe.ReplaceAllString(cleaned, `$1"$2":`)

	return validate(cleaned)
}

func (p *Parser) tryModelFix(ctx context.Context, text string) (json.RawMessage, bool) {
	fixed, err := p.fixer.FixJSON(ctx, text)
	if err != nil {
		p.logger.Warn("model JSON repair failed", "error", err)
		return nil, false
	}
	fixed = strings.TrimSpace(fixed)
	if fixed == "" || fixed == "null" {
		return nil, false
	}
	return validate(fixed)
}

func validate(text string) (json.RawMessage, bool) {
	if !json.Valid([]byte(text)) {
		return nil, false
	}
	// Bare scalars pass json.Valid; only accept documents.
	switch {
	case strings.HasPrefix(text, "{"), strings.HasPrefix(text, "["):
		return json.RawMessage(text), true
	}
	return nil, false
}

// replaceSingleQuotes swaps single-quoted strings for double-quoted ones
// while leaving apostrophes inside double-quoted strings alone.
func replaceSingleQuotes(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inDouble := false
	inSingle := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\\' && i+1 < len(text) && (inDouble || inSingle):
			b.WriteByte(c)
			i++
			b.WriteByte(text[i])
		case c == '"' && !inSingle:
			inDouble = !inDouble
			b.WriteByte(c)
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			b.WriteByte('"')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
