package synth

import "strings"

// Chunk splits text into ordered, non-empty segments of at most maxLen bytes
// wherever a sentence boundary allows it. Text is first split on
// sentence-ending punctuation ('.', '!', '?') with the terminator kept
// attached to its sentence; consecutive sentences are then greedily packed
// into a running buffer that is emitted when the next sentence would not fit.
//
// A single sentence longer than maxLen is emitted as its own oversize chunk:
// there is no valid split point inside it. Text without any sentence-ending
// punctuation is treated as one sentence. The concatenation of all chunks
// reproduces text up to whitespace normalisation at the boundaries.
//
// Chunk is a pure function; it performs no I/O and holds no state.
func Chunk(text string, maxLen int) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}
	if maxLen <= 0 {
		return []string{strings.Join(sentences, " ")}
	}

	var chunks []string
	var buf strings.Builder

	for _, sentence := range sentences {
		if buf.Len() > 0 && buf.Len()+1+len(sentence) > maxLen {
			chunks = append(chunks, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(sentence)
	}
	if buf.Len() > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}

// splitSentences breaks text on '.', '!' and '?', keeping the terminator
// attached to the sentence it ends. Whitespace around each sentence is
// trimmed; empty fragments are dropped.
func splitSentences(text string) []string {
	var sentences []string
	start := 0

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
