package models

const (
	DefaultUserID       = "default"
	DefaultChunkSize    = 500
	DefaultTopK         = 3
	DefaultNumQuestions = 2
	ContextSeparator    = "\n\n"

	NoRelevantInfoAnswer = "I couldn't find relevant information in your notes to answer this question."

	FallbackQuestion      = "Sample question based on your notes?"
	FallbackCorrectAnswer = "Option A"
)

var (
	FallbackOptions = []string{"Option A", "Option B", "Option C", "Option D"}

	AnswerSystemPrompt = "You are a helpful study assistant. Answer questions based on the provided context from the user's notes. If the context doesn't contain enough information, say so clearly."

	AnswerPromptTemplate = "Context: %s\n\nQuestion: %s"

	QuizSystemPrompt = `You are a quiz generator. Create multiple choice questions based on the provided content. Return ONLY a valid JSON array with questions in this format: [{"question": "Question text?", "options": ["A", "B", "C", "D"], "correct_answer": "A"}]`

	QuizPromptTemplate = "Generate %d multiple choice questions based on this content:\n\n%s"
)
