package rag

import (
	"strings"

	"studybuddy-rag/internal/models"
)

// AssembleContext joins chunks into one prompt context. ok is false when there
// is nothing to ground an answer on.
func AssembleContext(chunks []string) (text string, ok bool) {
	if len(chunks) == 0 {
		return "", false
	}
	return strings.Join(chunks, models.ContextSeparator), true
}
