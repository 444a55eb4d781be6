//go:build js && wasm

package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"syscall/js"
	"time"

	"palicanon/internal/adapter/analyzer"
	"palicanon/internal/adapter/cache"
	"palicanon/internal/adapter/chunker"
	"palicanon/internal/adapter/embedding"
	"palicanon/internal/adapter/memstore"
	"palicanon/internal/adapter/planner"
	"palicanon/internal/adapter/retriever"
	"palicanon/internal/domain"
	"palicanon/internal/port"
	"palicanon/internal/usecase"
)

const dimension = 256

var (
	store     *memstore.MemoryStore
	tokenizer *analyzer.Tokenizer
	embedder  port.Embedder
	chk       port.Chunker
	retrieve  *usecase.RetrieveUseCase
	results   *cache.QueryCache
)

func init() {
	tokenizer = analyzer.NewTokenizer(true)
	embedder = cache.NewCachedEmbedder(embedding.NewHashEmbedder(dimension, tokenizer), 256)
	chk = chunker.NewPageChunker(800, 120, tokenizer)
	reset()
}

func reset() {
	store = memstore.NewMemoryStore()
	results = cache.NewQueryCache(64, 0)
	r := cache.NewCachedRetriever(retriever.New(store, embedder, tokenizer, retriever.DefaultParams()), results)
	retrieve = usecase.NewRetrieveUseCase(planner.New(planner.NewAliasTable(nil)), r, nil)
}

func main() {
	c := make(chan struct{})

	js.Global().Set("paliIndex", js.FuncOf(indexContent))
	js.Global().Set("paliQuery", js.FuncOf(queryContent))
	js.Global().Set("paliClear", js.FuncOf(clearIndex))
	js.Global().Set("paliStats", js.FuncOf(getStats))

	<-c
}

func indexContent(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return makeError("usage: paliIndex(filename, content)")
	}

	filename := args[0].String()
	content := args[1].String()

	doc := domain.Document{
		ID:      generateDocID(filename),
		Path:    filename,
		RelPath: filename,
		ModTime: time.Now(),
	}

	chunks, err := chk.Chunk(doc, content)
	if err != nil {
		return makeError("chunking failed: " + err.Error())
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embedder.Embed(context.Background(), texts)
	if err != nil {
		return makeError("embedding failed: " + err.Error())
	}

	postings := make(map[string]map[string]int)
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
		for _, token := range chunks[i].Tokens {
			if postings[token] == nil {
				postings[token] = make(map[string]int)
			}
			postings[token][chunks[i].ID]++
		}
	}

	err = store.BatchIndex([]port.IndexedFile{{
		Doc:      doc,
		Chunks:   chunks,
		Postings: postings,
	}})
	if err != nil {
		return makeError("indexing failed: " + err.Error())
	}
	results.Invalidate()

	return makeResult(map[string]interface{}{
		"success":  true,
		"chunks":   len(chunks),
		"filename": filename,
	})
}

func queryContent(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return makeError("usage: paliQuery(question, [topK])")
	}

	question := args[0].String()
	topK := 0
	if len(args) > 1 {
		topK = args[1].Int()
	}

	q, err := retrieve.Retrieve(context.Background(), question, topK, domain.Constraints{})
	if err != nil {
		return makeError("search failed: " + err.Error())
	}

	return makeResult(map[string]interface{}{
		"query":     question,
		"plan":      q.Plan,
		"results":   q.Result.Hits,
		"broadened": q.Result.Broadened,
	})
}

func clearIndex(this js.Value, args []js.Value) interface{} {
	reset()
	return makeResult(map[string]interface{}{
		"success": true,
	})
}

func getStats(this js.Value, args []js.Value) interface{} {
	stats, _ := store.GetStats()
	docs, _ := store.ListDocs()

	filenames := make([]string, len(docs))
	for i, doc := range docs {
		filenames[i] = doc.Path
	}

	return makeResult(map[string]interface{}{
		"totalDocs":   stats.TotalDocs,
		"totalChunks": stats.TotalChunks,
		"avgChunkLen": stats.AvgChunkLen,
		"files":       filenames,
	})
}

func generateDocID(path string) string {
	hash := sha256.Sum256([]byte(path))
	return hex.EncodeToString(hash[:8])
}

func makeError(msg string) interface{} {
	result, _ := json.Marshal(map[string]interface{}{
		"error": msg,
	})
	return string(result)
}

func makeResult(data map[string]interface{}) interface{} {
	result, _ := json.Marshal(data)
	return string(result)
}
