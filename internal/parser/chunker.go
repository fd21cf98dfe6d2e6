package parser

import (
	"strings"
	"unicode/utf8"

	"studybuddy-rag/internal/models"
)

// SplitIntoChunks splits text into word aligned chunks of at most maxLength
// characters. Words are never split, so a single word longer than maxLength
// becomes its own oversized chunk. Empty or blank text yields no chunks.
func SplitIntoChunks(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = models.DefaultChunkSize
	}

	var chunks []string
	var current []string
	currentLength := 0

	for _, word := range strings.Fields(text) {
		wordLength := utf8.RuneCountInString(word)
		// +1 for the separating space
		if currentLength+wordLength+1 <= maxLength {
			current = append(current, word)
			currentLength += wordLength + 1
			continue
		}
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
		}
		current = []string{word}
		currentLength = wordLength
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// ToChunks attaches the source filename and the batch position to each chunk text
func ToChunks(filename string, texts []string) []models.Chunk {
	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{
			Content:        text,
			SourceFilename: filename,
			ChunkIndex:     i,
		}
	}
	return chunks
}
