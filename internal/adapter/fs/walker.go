package fs

import (
	"bytes"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"palicanon/internal/port"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Walker finds corpus text exports under a root directory. Include and
// exclude patterns are doublestar globs over slash-separated paths relative
// to the root; a file is listed when some include matches and no exclude
// does.
type Walker struct {
	includes []string
	excludes []string
}

var _ port.FileWalker = (*Walker)(nil)

func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*.txt"}
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

// Walk globs every include pattern over root and returns the union, sorted
// by relative path. Empty files are skipped.
func (w *Walker) Walk(root string) ([]port.FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsys := os.DirFS(root)

	seen := make(map[string]struct{})
	var files []port.FileInfo
	for _, pattern := range w.includes {
		err := doublestar.GlobWalk(fsys, pattern, func(rel string, d iofs.DirEntry) error {
			if _, dup := seen[rel]; dup || w.excluded(rel) {
				return nil
			}
			seen[rel] = struct{}{}

			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.Size() == 0 {
				return nil
			}
			files = append(files, port.FileInfo{
				Path:    filepath.Join(root, filepath.FromSlash(rel)),
				RelPath: rel,
				ModTime: info.ModTime().Unix(),
				Size:    info.Size(),
			})
			return nil
		}, doublestar.WithFilesOnly())
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// excluded also tests every parent directory so that patterns such as
// "**/.git/**" prune whole trees.
func (w *Walker) excluded(rel string) bool {
	candidates := []string{rel}
	for dir := rel; ; {
		i := strings.LastIndexByte(dir, '/')
		if i < 0 {
			break
		}
		dir = dir[:i]
		candidates = append(candidates, dir+"/")
	}
	for _, pattern := range w.excludes {
		for _, c := range candidates {
			if ok, err := doublestar.Match(pattern, c); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// ReadFile reads a text export, dropping a UTF-8 byte order mark and
// normalising CRLF line endings. Form feeds are kept as page breaks.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	return string(data), nil
}
