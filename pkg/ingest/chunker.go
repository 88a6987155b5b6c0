// Package ingest performs one-shot ingestion of source documents into the
// retrieval store: chunking, batch embedding and upsert.
package ingest

import "strings"

// DefaultChunkSize is the target chunk length in characters.
const DefaultChunkSize = 500

// ChunkText splits a document into chunks of roughly chunkSize characters.
// Paragraph boundaries are preserved where possible; paragraphs longer than
// the chunk size are split at sentence boundaries.
func ChunkText(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(para) > chunkSize {
			flush()
			for _, sentence := range splitSentences(para) {
				if current.Len() > 0 && current.Len()+len(sentence)+1 > chunkSize {
					flush()
				}
				if current.Len() > 0 {
					current.WriteByte(' ')
				}
				current.WriteString(sentence)
			}
			flush()
			continue
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > chunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// splitSentences splits text after sentence-ending punctuation. A sentence
// that never ends is returned whole.
func splitSentences(text string) []string {
	var sentences []string
	start := 0

	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' || text[i+1] == '\n' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
