package models

// Chunk represents a piece of an uploaded document with metadata
type Chunk struct {
	Content        string
	SourceFilename string
	ChunkIndex     int
}

// QuizQuestion is a single multiple choice question.
// Options always holds four entries and CorrectAnswer matches one of them.
type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
}

type Answer struct {
	Answer  string `json:"answer"`
	Sources int    `json:"sources"`
}

type UploadResult struct {
	Filename        string `json:"filename"`
	ChunksProcessed int    `json:"chunks_processed"`
}
