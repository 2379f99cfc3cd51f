// Package echo provides a pure-Go reference engine. It tokenizes like the
// external engines but assigns placeholder tags, which makes it useful for
// smoke tests, benchmarks and environments without a tagger installed.
package echo

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/seantiz/tagpool/internal/backend"
	"github.com/seantiz/tagpool/internal/model"
)

// Name is the registry name of the echo engine.
const Name = "echo"

// Placeholder tags.
const (
	TagUnknown  = "UNK"
	TagNumber   = "CD"
	TagSentence = "SENT"
	TagPunct    = "PUN"
)

// Backend is the echo engine.
type Backend struct {
	lang   string
	closed atomic.Bool
}

var _ backend.Backend = (*Backend)(nil)

// New is the backend.Factory for the echo engine.
func New(cfg backend.Config) (backend.Backend, error) {
	return &Backend{lang: cfg.Lang}, nil
}

// Tag returns token<TAB>tag<TAB>lemma lines, or bare tokens with PrepOnly.
// SGML tags are echoed unchanged.
func (b *Backend) Tag(ctx context.Context, text string, opts model.Options) ([]string, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("%w: %w", backend.ErrEngine, backend.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := backend.Tokenize(text, opts)
	lines := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if opts.PrepOnly || isSGML(tok) {
			lines = append(lines, tok)
			continue
		}
		lines = append(lines, tok+"\t"+tagFor(tok)+"\t"+strings.ToLower(tok))
	}
	return lines, nil
}

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: Name, Lang: b.lang}
}

func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

func isSGML(tok string) bool {
	return len(tok) > 2 && tok[0] == '<' && tok[len(tok)-1] == '>'
}

func tagFor(tok string) string {
	switch tok {
	case ".", "!", "?":
		return TagSentence
	}

	allDigits, hasLetterOrDigit := true, false
	for _, r := range tok {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasLetterOrDigit = true
		}
		if !unicode.IsDigit(r) {
			allDigits = false
		}
	}
	switch {
	case allDigits:
		return TagNumber
	case !hasLetterOrDigit:
		return TagPunct
	default:
		return TagUnknown
	}
}
