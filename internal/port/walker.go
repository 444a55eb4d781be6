package port

// FileWalker lists the corpus files under a root directory.
type FileWalker interface {
	Walk(root string) ([]FileInfo, error)
}

// FileInfo describes one corpus file. RelPath is slash-separated and is the
// identity used for incremental indexing and basket inference.
type FileInfo struct {
	Path    string
	RelPath string
	ModTime int64 // unix seconds
	Size    int64
}
