// Package segmenter splits incrementally streamed text into complete
// sentences that are safe to hand to a speech synthesizer.
//
// A Segmenter is owned by a single response stream and is not safe for
// concurrent use; callers serialize Push, Flush and Clear.
package segmenter

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMinLength is the minimum sentence length, in runes, emitted by Push.
const DefaultMinLength = 10

// Handler receives each extracted sentence in order.
type Handler func(sentence string) error

// ErrorHandler observes sentence handler failures.
type ErrorHandler func(err error, sentence string)

// CallbackError reports a sentence handler that returned an error or panicked.
type CallbackError struct {
	Sentence string
	Err      error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("segmenter: sentence handler: %v", e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// Stats summarizes a Segmenter's lifetime counters.
type Stats struct {
	Sentences int
	Errors    int
	Buffered  int
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithMinLength overrides DefaultMinLength. Values below 1 are ignored.
func WithMinLength(n int) Option {
	return func(s *Segmenter) {
		if n > 0 {
			s.minLength = n
		}
	}
}

// WithErrorHandler registers an observer for handler failures.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(s *Segmenter) {
		s.onError = fn
	}
}

// WithAbbreviations extends the abbreviation set. Entries are matched
// case-insensitively against the word before a period, without the period.
func WithAbbreviations(words ...string) Option {
	return func(s *Segmenter) {
		for _, w := range words {
			w = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(w), "."))
			if w != "" {
				s.abbreviations[w] = struct{}{}
			}
		}
	}
}

// Segmenter accumulates deltas and emits sentences through its Handler.
type Segmenter struct {
	buf           string
	minLength     int
	handler       Handler
	onError       ErrorHandler
	abbreviations map[string]struct{}

	sentences int
	errors    int
}

// New returns a Segmenter delivering sentences to handler.
func New(handler Handler, opts ...Option) *Segmenter {
	if handler == nil {
		handler = func(string) error { return nil }
	}
	s := &Segmenter{
		minLength:     DefaultMinLength,
		handler:       handler,
		abbreviations: make(map[string]struct{}, len(defaultAbbreviations)),
	}
	for _, w := range defaultAbbreviations {
		s.abbreviations[w] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push appends delta and emits every complete sentence now available.
func (s *Segmenter) Push(delta string) {
	if delta == "" {
		return
	}
	s.buf += delta
	s.extract()
}

// Flush emits whatever remains in the buffer, regardless of length, and
// clears it.
func (s *Segmenter) Flush() {
	rest := strings.TrimSpace(s.buf)
	s.buf = ""
	if rest != "" {
		s.emit(rest)
	}
}

// Clear drops the buffer without emitting.
func (s *Segmenter) Clear() {
	s.buf = ""
}

// Buffered returns the text not yet emitted.
func (s *Segmenter) Buffered() string {
	return s.buf
}

// Stats returns the emitted sentence and handler error counts.
func (s *Segmenter) Stats() Stats {
	return Stats{
		Sentences: s.sentences,
		Errors:    s.errors,
		Buffered:  utf8.RuneCountInString(s.buf),
	}
}

// extract removes and emits complete sentences from the front of the buffer.
// A boundary whose candidate is shorter than minLength stays attached and the
// scan moves on, so short fragments merge into the following sentence.
func (s *Segmenter) extract() {
	for {
		runes := []rune(s.buf)
		cut := -1
		for i, r := range runes {
			if !isTerminal(r) {
				continue
			}
			if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
				continue
			}
			if r == '.' && !s.periodEndsSentence(runes, i) {
				continue
			}
			candidate := strings.TrimSpace(string(runes[:i+1]))
			if utf8.RuneCountInString(candidate) < s.minLength {
				continue
			}
			cut = i + 1
			break
		}
		if cut < 0 {
			return
		}

		sentence := strings.TrimSpace(string(runes[:cut]))
		s.buf = strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace)
		s.emit(sentence)
	}
}

// periodEndsSentence applies the period rules at runes[i].
func (s *Segmenter) periodEndsSentence(runes []rune, i int) bool {
	word := precedingWord(runes, i)
	if word != "" {
		if _, ok := s.abbreviations[strings.ToLower(word)]; ok {
			return false
		}
		if utf8.RuneCountInString(word) == 1 {
			return false
		}
		if isDigits(word) {
			return false
		}
	}

	spaces := 0
	j := i + 1
	for j < len(runes) && unicode.IsSpace(runes[j]) {
		spaces++
		j++
	}
	if j < len(runes) && unicode.IsLower(runes[j]) && spaces < 2 {
		return false
	}
	return true
}

func (s *Segmenter) emit(sentence string) {
	s.sentences++
	if err := s.invoke(sentence); err != nil {
		s.errors++
		if s.onError != nil {
			s.onError(&CallbackError{Sentence: sentence, Err: err}, sentence)
		}
	}
}

func (s *Segmenter) invoke(sentence string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.handler(sentence)
}

// precedingWord returns the run of non-space runes ending just before index
// i, with leading quotes and brackets removed.
func precedingWord(runes []rune, i int) string {
	start := i
	for start > 0 && !unicode.IsSpace(runes[start-1]) {
		start--
	}
	word := string(runes[start:i])
	return strings.TrimLeftFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isDigits(word string) bool {
	for _, r := range word {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return word != ""
}
