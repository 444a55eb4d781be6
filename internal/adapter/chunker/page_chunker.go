package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"palicanon/internal/adapter/analyzer"
	"palicanon/internal/domain"
	"palicanon/internal/port"
)

// PageChunker splits a text export of a book into pages on form feeds, then
// packs sentences into chunks of at most maxChars characters. Consecutive
// chunks on a page share up to overlap characters of trailing sentences.
type PageChunker struct {
	maxChars  int
	overlap   int
	tokenizer port.Tokenizer
}

var _ port.Chunker = (*PageChunker)(nil)

func NewPageChunker(maxChars, overlap int, tokenizer port.Tokenizer) *PageChunker {
	return &PageChunker{
		maxChars:  maxChars,
		overlap:   overlap,
		tokenizer: tokenizer,
	}
}

func (c *PageChunker) Chunk(doc domain.Document, content string) ([]domain.Chunk, error) {
	relPath := filepath.ToSlash(doc.RelPath)
	if relPath == "" {
		relPath = filepath.ToSlash(doc.Path)
	}
	basket := analyzer.InferBasket(relPath)
	nikaya := analyzer.InferNikaya(relPath)
	source := filepath.Base(relPath)

	var chunks []domain.Chunk
	for i, page := range strings.Split(content, "\f") {
		pageNum := i + 1
		sents := splitSentences(page)
		if len(sents) == 0 {
			continue
		}
		for n, text := range c.packSentences(sents) {
			spanID := fmt.Sprintf("p%d_c%d", pageNum, n+1)
			chunks = append(chunks, domain.Chunk{
				ID:     generateChunkID(doc.ID, spanID),
				DocID:  doc.ID,
				Text:   text,
				Tokens: c.tokenizer.Tokenize(text),
				Meta: domain.ChunkMetadata{
					SourceDocument: source,
					PageNumber:     pageNum,
					Basket:         basket,
					Nikaya:         nikaya,
					SpanID:         spanID,
					RelPath:        relPath,
					Citations:      analyzer.ExtractCitations(text),
				},
			})
		}
	}

	return chunks, nil
}

// packSentences greedily joins sentences up to maxChars. When a chunk is
// emitted, the longest suffix of its sentences not exceeding overlap
// characters seeds the next chunk.
func (c *PageChunker) packSentences(sents []string) []string {
	var chunks []string
	var buf []string
	curLen := 0

	for _, s := range c.splitLong(sents) {
		if curLen+len(s)+1 > c.maxChars && len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, " "))
			for len(buf) > 0 && len(strings.Join(buf, " ")) > c.overlap {
				buf = buf[1:]
			}
			curLen = len(strings.Join(buf, " "))
		}
		buf = append(buf, s)
		curLen += len(s) + 1
	}
	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, " "))
	}
	return chunks
}

// splitLong breaks sentences longer than maxChars at word boundaries.
func (c *PageChunker) splitLong(sents []string) []string {
	out := make([]string, 0, len(sents))
	for _, s := range sents {
		for len(s) > c.maxChars {
			cut := strings.LastIndexByte(s[:c.maxChars], ' ')
			if cut <= 0 {
				cut = c.maxChars
				for cut > 1 && !utf8.RuneStart(s[cut]) {
					cut--
				}
			}
			out = append(out, strings.TrimSpace(s[:cut]))
			s = strings.TrimSpace(s[cut:])
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// splitSentences breaks after '.', '!' or '?' followed by whitespace and an
// uppercase letter. Whitespace inside a sentence is collapsed.
func splitSentences(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var sents []string
	start := 0
	for i := 0; i < len(words)-1; i++ {
		last := words[i][len(words[i])-1]
		if last != '.' && last != '!' && last != '?' {
			continue
		}
		next := []rune(words[i+1])[0]
		if !unicode.IsUpper(next) {
			continue
		}
		sents = append(sents, strings.Join(words[start:i+1], " "))
		start = i + 1
	}
	sents = append(sents, strings.Join(words[start:], " "))
	return sents
}

func generateChunkID(docID, spanID string) string {
	data := fmt.Sprintf("%s:%s", docID, spanID)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
