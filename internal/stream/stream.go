// Package stream emits extracted content incrementally under a character
// budget derived from a token allowance. The streamer is a pull-based
// iterator with an internal cursor: the next chunk materializes only when
// the consumer asks for it, so a page is never buffered whole.
package stream

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Chunk is one bounded slice of extracted content. Seq increases
// monotonically per stream; the final chunk carries IsFinal regardless of
// whether the budget or the source ran out first.
type Chunk struct {
	Seq     int    `json:"seq"`
	Content string `json:"content"`
	IsFinal bool   `json:"is_final"`
}

// Options bounds a stream.
type Options struct {
	// MaxTokens and CharsPerToken define the budget: at most
	// MaxTokens*CharsPerToken characters are ever emitted.
	MaxTokens     int
	CharsPerToken float64
	// ChunkChars is the size of each emitted chunk.
	ChunkChars int
}

func (o *Options) defaults() {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4000
	}
	if o.CharsPerToken < 1 {
		o.CharsPerToken = 4.0
	}
	if o.ChunkChars < 200 {
		o.ChunkChars = 1800
	}
}

// Streamer walks a source string chunk by chunk. Finite and
// non-restartable: once Next returns false the stream is exhausted.
type Streamer struct {
	src       []rune
	cursor    int
	limit     int // budget in characters
	chunkSize int
	seq       int
	done      bool
	truncated bool
	emitted   int
}

// New builds a streamer over source with the given budget. The source is
// the already-extracted text of one selector match; the budget, not the
// caller, decides how much of it is ever surfaced.
func New(source string, opts Options) *Streamer {
	opts.defaults()
	src := []rune(source)

	limit := int(float64(opts.MaxTokens) * opts.CharsPerToken)
	if limit < 100 {
		limit = 100
	}
	truncated := len(src) > limit
	if truncated {
		src = src[:limit]
	}

	return &Streamer{
		src:       src,
		limit:     limit,
		chunkSize: opts.ChunkChars,
		truncated: truncated,
	}
}

// Next returns the next chunk, or nil when the stream is exhausted. The
// chunk covering the end of the budgeted source carries IsFinal.
// Concatenating all chunks in sequence order reconstructs a prefix of the
// source: never a reordering, never a gap.
func (s *Streamer) Next() (*Chunk, bool) {
	if s.done {
		return nil, false
	}
	if s.cursor >= len(s.src) {
		// Empty source still yields one final (empty) chunk so consumers
		// always observe stream termination.
		s.done = true
		return &Chunk{Seq: s.seq, Content: "", IsFinal: true}, true
	}

	end := s.cursor + s.chunkSize
	if end >= len(s.src) {
		end = len(s.src)
	}
	c := &Chunk{
		Seq:     s.seq,
		Content: string(s.src[s.cursor:end]),
		IsFinal: end == len(s.src),
	}
	s.cursor = end
	s.seq++
	s.emitted += len([]rune(c.Content))
	if c.IsFinal {
		s.done = true
	}
	return c, true
}

// Truncated reports whether the budget cut the source short. Truncation
// is expected behavior, not an error.
func (s *Streamer) Truncated() bool { return s.truncated }

// Emitted returns the number of characters surfaced so far.
func (s *Streamer) Emitted() int { return s.emitted }

// TokenCounter estimates or exactly counts tokens for budget reporting.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter divides character count by a chars-per-token ratio.
type HeuristicCounter struct {
	CharsPerToken float64
}

func (h HeuristicCounter) Count(text string) int {
	ratio := h.CharsPerToken
	if ratio < 1 {
		ratio = 4.0
	}
	return int(float64(len([]rune(text))) / ratio)
}

// TiktokenCounter counts tokens with a real BPE encoding when the
// deployment cares about exact budgets. Lazily initialized; falls back to
// the heuristic if the encoding cannot be loaded.
type TiktokenCounter struct {
	Encoding string
	Fallback HeuristicCounter

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func (t *TiktokenCounter) Count(text string) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.Encoding)
		if err == nil {
			t.enc = enc
		}
	})
	if t.enc == nil {
		return t.Fallback.Count(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// NewCounter picks the exact counter when an encoding is configured,
// otherwise the heuristic.
func NewCounter(encoding string, charsPerToken float64) TokenCounter {
	if encoding == "" {
		return HeuristicCounter{CharsPerToken: charsPerToken}
	}
	return &TiktokenCounter{
		Encoding: encoding,
		Fallback: HeuristicCounter{CharsPerToken: charsPerToken},
	}
}
