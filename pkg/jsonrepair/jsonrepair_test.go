package jsonrepair

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFixer struct {
	out string
	err error

	called bool
}

func (f *stubFixer) FixJSON(_ context.Context, _ string) (string, error) {
	f.called = true
	return f.out, f.err
}

func TestParseDirect(t *testing.T) {
	p := NewParser()
	raw, err := p.Parse(context.Background(), `{"goal": "x"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"goal": "x"}`, string(raw))
}

func TestParseMarkdownBlock(t *testing.T) {
	p := NewParser()
	tests := []struct {
		name string
		in   string
	}{
		{"json fence", "Here is the plan:\n```json\n{\"steps\": [1, 2]}\n```\nDone."},
		{"bare fence", "```\n{\"steps\": [1, 2]}\n```"},
		{"inline code", "The result is `{\"steps\": [1, 2]}` as requested."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := p.Parse(context.Background(), tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, `{"steps": [1, 2]}`, string(raw))
		})
	}
}

func TestParseCleanup(t *testing.T) {
	p := NewParser()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trailing comma", `{"a": 1,}`, `{"a": 1}`},
		{"single quotes", `{'a': 'b'}`, `{"a": "b"}`},
		{"bare keys", `{a: 1, b: 2}`, `{"a": 1, "b": 2}`},
		{"prefix", `json: {"a": 1}`, `{"a": 1}`},
		{"apostrophe preserved", `{"msg": "it's fine",}`, `{"msg": "it's fine"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := p.Parse(context.Background(), tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestParseModelFixFallback(t *testing.T) {
	fixer := &stubFixer{out: `{"repaired": true}`}
	p := NewParser(WithFixer(fixer))

	raw, err := p.Parse(context.Background(), "total garbage, not even close")
	require.NoError(t, err)
	assert.True(t, fixer.called)
	assert.JSONEq(t, `{"repaired": true}`, string(raw))
}

func TestParseModelFixNotCalledWhenLocalSucceeds(t *testing.T) {
	fixer := &stubFixer{out: `{}`}
	p := NewParser(WithFixer(fixer))

	_, err := p.Parse(context.Background(), `{"a": 1}`)
	require.NoError(t, err)
	assert.False(t, fixer.called)
}

func TestParseAllStrategiesFail(t *testing.T) {
	fixer := &stubFixer{err: errors.New("model unavailable")}
	p := NewParser(WithFixer(fixer))

	_, err := p.Parse(context.Background(), "not json at all")
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestParseEmptyInput(t *testing.T) {
	p := NewParser()
	_, err := p.Parse(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestParseInto(t *testing.T) {
	p := NewParser()
	var out struct {
		Goal  string   `json:"goal"`
		Steps []string `json:"steps"`
	}
	err := p.ParseInto(context.Background(), "```json\n{\"goal\": \"g\", \"steps\": [\"a\"]}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, "g", out.Goal)
	assert.Equal(t, []string{"a"}, out.Steps)
}
