package transcribe

import "sync"

// UtteranceBuffer accumulates words from is_final results until speech_final
// or an utterance end marks the utterance complete.
type UtteranceBuffer struct {
	mu    sync.Mutex
	words []Word
}

func NewUtteranceBuffer() *UtteranceBuffer {
	return &UtteranceBuffer{}
}

func (b *UtteranceBuffer) AddWords(words []Word) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.words = append(b.words, words...)
}

// Flush returns all accumulated words and empties the buffer. It returns nil
// when nothing is buffered.
func (b *UtteranceBuffer) Flush() []Word {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.words) == 0 {
		return nil
	}
	out := b.words
	b.words = nil
	return out
}

// Words returns a copy of the buffered words without clearing them.
func (b *UtteranceBuffer) Words() []Word {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.words) == 0 {
		return nil
	}
	out := make([]Word, len(b.words))
	copy(out, b.words)
	return out
}

func (b *UtteranceBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.words)
}
