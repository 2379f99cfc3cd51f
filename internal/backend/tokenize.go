package backend

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/seantiz/tagpool/internal/model"
)

const (
	sgmlPattern      = `<[^<>\s][^<>]*>`
	gluedSGMLPattern = `(?:[^\s<>]*<[^<>\s][^<>]*>)+[^\s<>]*`
	urlPattern       = `(?:https?|ftp)://[^\s<>"]+|www\.[^\s<>"]+`
	emailPattern     = `[\w.+\-]+@[\w\-]+(?:\.[\w\-]+)+`
	ipPattern        = `\b\d{1,3}(?:\.\d{1,3}){3}\b`
	dnsPattern       = `\b(?:[A-Za-z0-9\-]+\.)+(?:com|org|net|edu|gov|info|io|eu|fr|de|uk)\b`
	wordPattern      = `[\p{L}\p{N}]+(?:['’\-][\p{L}\p{N}]+)*`
	punctPattern     = `[^\s\p{L}\p{N}]`
)

// Blank tokens emitted with TagBlanks, one per whitespace character.
const (
	BlankSpace   = "<sp/>"
	BlankTab     = "<tab/>"
	BlankNewline = "<nl/>"
)

// LineMarker is the token emitted with NumLines before the tokens of input
// line n (1-based).
func LineMarker(n int) string {
	return `<line n="` + strconv.Itoa(n) + `"/>`
}

// Bits of the tokenizer variant index.
const (
	keepURL = 1 << iota
	keepEmail
	keepIP
	keepDNS
	glueSGML
)

var tokenizers [32]*regexp.Regexp

func init() {
	for mask := range tokenizers {
		alts := []string{sgmlPattern}
		if mask&glueSGML != 0 {
			alts[0] = gluedSGMLPattern
		}
		if mask&keepURL != 0 {
			alts = append(alts, urlPattern)
		}
		if mask&keepEmail != 0 {
			alts = append(alts, emailPattern)
		}
		if mask&keepIP != 0 {
			alts = append(alts, ipPattern)
		}
		if mask&keepDNS != 0 {
			alts = append(alts, dnsPattern)
		}
		alts = append(alts, wordPattern, punctPattern)
		tokenizers[mask] = regexp.MustCompile(strings.Join(alts, "|"))
	}
}

// Tokenize splits text into the tokens an engine tags, one per output line.
//
// SGML tags are single tokens, split from any text they touch unless
// NoSGMLSplit is set. URLs, e-mail addresses, IP addresses and DNS names stay
// whole unless the matching NoTag* option is set. TagBlanks turns every
// whitespace character into a blank token. NumLines puts a LineMarker before
// the tokens of each input line. With TagOnly the text is already tokenized,
// one token per line, and only NumLines still applies.
func Tokenize(text string, opts model.Options) []string {
	if !opts.NumLines {
		return tokenizeSpan(text, opts)
	}

	lines := strings.Split(text, "\n")
	var tokens []string
	for i, line := range lines {
		if toks := tokenizeSpan(line, opts); len(toks) > 0 {
			tokens = append(tokens, LineMarker(i+1))
			tokens = append(tokens, toks...)
		}
		if opts.TagBlanks && !opts.TagOnly && i < len(lines)-1 {
			tokens = append(tokens, BlankNewline)
		}
	}
	return tokens
}

func tokenizeSpan(text string, opts model.Options) []string {
	if opts.TagOnly {
		var tokens []string
		for _, line := range strings.Split(text, "\n") {
			if tok := strings.TrimSpace(line); tok != "" {
				tokens = append(tokens, tok)
			}
		}
		return tokens
	}

	re := tokenizers[variant(opts)]
	if !opts.TagBlanks {
		return re.FindAllString(text, -1)
	}

	var tokens []string
	last := 0
	for _, loc := range re.FindAllStringIndex(text, -1) {
		tokens = appendBlanks(tokens, text[last:loc[0]])
		tokens = append(tokens, text[loc[0]:loc[1]])
		last = loc[1]
	}
	return appendBlanks(tokens, text[last:])
}

func variant(opts model.Options) int {
	mask := 0
	if !opts.NoTagURL {
		mask |= keepURL
	}
	if !opts.NoTagEmail {
		mask |= keepEmail
	}
	if !opts.NoTagIP {
		mask |= keepIP
	}
	if !opts.NoTagDNS {
		mask |= keepDNS
	}
	if opts.NoSGMLSplit {
		mask |= glueSGML
	}
	return mask
}

// appendBlanks appends one blank token per whitespace rune of gap. Gaps
// between matches hold only whitespace.
func appendBlanks(tokens []string, gap string) []string {
	for _, r := range gap {
		switch r {
		case '\t':
			tokens = append(tokens, BlankTab)
		case '\n':
			tokens = append(tokens, BlankNewline)
		case '\r':
		default:
			tokens = append(tokens, BlankSpace)
		}
	}
	return tokens
}
