package port

// Tokenizer turns text into index terms and estimates LLM token counts.
// Indexing and query scoring must share one configuration.
type Tokenizer interface {
	Tokenize(text string) []string
	CountTokens(text string) int
}
