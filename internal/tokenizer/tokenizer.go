// Package tokenizer counts BPE tokens and splits text into token-bounded chunks.
package tokenizer

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/bull/irb-compliance/internal/storage"
)

// DefaultEncoding is the BPE vocabulary used when none is configured.
const DefaultEncoding = "cl100k_base"

// sentenceBoundary matches sentence-final punctuation followed by whitespace.
var sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)

var loaderOnce sync.Once

// Tokenizer counts tokens and chunks text under a token budget.
type Tokenizer struct {
	count func(string) int
}

// New creates a Tokenizer backed by the named tiktoken encoding.
// BPE tables are loaded from the embedded offline loader, so no network access is needed.
func New(encoding string) (*Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}

	return &Tokenizer{
		count: func(text string) int {
			return len(enc.Encode(text, nil, nil))
		},
	}, nil
}

// NewWithCounter creates a Tokenizer that uses count for token counting.
func NewWithCounter(count func(string) int) *Tokenizer {
	return &Tokenizer{count: count}
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return t.count(text)
}

// ChunkDocument splits a document's content into chunks of at most maxTokens tokens.
func (t *Tokenizer) ChunkDocument(doc storage.Document, maxTokens int) []string {
	return t.ChunkText(doc.Content, maxTokens)
}

// ChunkText greedily packs sentences into chunks of at most maxTokens tokens.
// Sentences over budget are split at word boundaries, and words over budget are
// split into runs of maxTokens characters. A single character that alone encodes
// to more than maxTokens tokens (a CJK rune at maxTokens=1) is emitted over budget.
func (t *Tokenizer) ChunkText(text string, maxTokens int) []string {
	if maxTokens < 1 {
		maxTokens = 1
	}

	var chunks []string
	current := ""

	for _, sentence := range splitSentences(text) {
		candidate := joinSpace(current, sentence)
		if t.CountTokens(candidate) <= maxTokens {
			current = candidate
			continue
		}

		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}

		if t.CountTokens(sentence) > maxTokens {
			chunks = append(chunks, t.splitWords(sentence, maxTokens)...)
		} else {
			current = sentence
		}
	}

	if current != "" {
		chunks = append(chunks, current)
	}

	return chunks
}

// splitWords packs words of an over-budget sentence into chunks.
func (t *Tokenizer) splitWords(sentence string, maxTokens int) []string {
	var chunks []string
	current := ""

	for _, word := range strings.Fields(sentence) {
		candidate := joinSpace(current, word)
		if t.CountTokens(candidate) <= maxTokens {
			current = candidate
			continue
		}

		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}

		if t.CountTokens(word) > maxTokens {
			chunks = append(chunks, t.splitRunes(word, maxTokens)...)
		} else {
			current = word
		}
	}

	if current != "" {
		chunks = append(chunks, current)
	}

	return chunks
}

// splitRunes cuts a word into runs of maxTokens characters. A run that still encodes
// to more than maxTokens tokens is halved until it fits or is a single character.
func (t *Tokenizer) splitRunes(word string, maxTokens int) []string {
	runes := []rune(word)
	var chunks []string

	for i := 0; i < len(runes); {
		n := min(maxTokens, len(runes)-i)
		for n > 1 && t.CountTokens(string(runes[i:i+n])) > maxTokens {
			n /= 2
		}
		chunks = append(chunks, string(runes[i:i+n]))
		i += n
	}

	return chunks
}

// splitSentences splits text after sentence-final punctuation followed by whitespace.
// Empty sentences are dropped and the rest are trimmed.
func splitSentences(text string) []string {
	var sentences []string
	last := 0

	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}

	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		add(text[last : loc[0]+1])
		last = loc[1]
	}
	add(text[last:])

	return sentences
}

func joinSpace(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}
