package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Indexer receives documents read from disk.
type Indexer interface {
	Add(projectID, sourceID, content string)
}

// corpusExts lists the text formats LoadCorpus reads.
var corpusExts = map[string]bool{".md": true, ".txt": true}

// LoadCorpus indexes every text document under dir/<project>/ into idx.
// Each immediate subdirectory of dir is one project. It returns the number of files read.
func LoadCorpus(dir string, idx Indexer) (int, error) {
	projects, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read corpus dir: %w", err)
	}

	n := 0
	for _, p := range projects {
		if !p.IsDir() {
			continue
		}
		root := filepath.Join(dir, p.Name())
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !corpusExts[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			rel, _ := filepath.Rel(root, path)
			idx.Add(p.Name(), filepath.ToSlash(rel), string(data))
			n++
			return nil
		})
		if err != nil {
			return n, fmt.Errorf("load corpus for %s: %w", p.Name(), err)
		}
	}
	return n, nil
}
