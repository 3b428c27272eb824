package workspace

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Directories never listed in manifests or exports.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".elisa":       true,
}

// sourceExtensions are the file types the structural digest inspects.
var sourceExtensions = map[string]bool{
	".go": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".py": true, ".html": true, ".css": true, ".ino": true, ".c": true,
	".cpp": true, ".h": true,
}

// Manifest lists the tracked files of a workspace relative to its root.
func Manifest(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if skippedDirs[info.Name()] && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk workspace: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// symbolPatterns extract top-level declarations per language family.
var symbolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^func\s+(\([^)]+\)\s*)?([A-Za-z_][A-Za-z0-9_]*)`), // go
	regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)`),               // go
	regexp.MustCompile(`^(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
	regexp.MustCompile(`^(?:export\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
	regexp.MustCompile(`^(?:export\s+)?const\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=`),
	regexp.MustCompile(`^def\s+([A-Za-z_][A-Za-z0-9_]*)`),   // python
	regexp.MustCompile(`^class\s+([A-Za-z_][A-Za-z0-9_]*)`), // python
	regexp.MustCompile(`^void\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
}

type digestEntry struct {
	modTime int64
	digest  string
}

// Digester computes structural digests (top-level symbols per source file),
// caching results per file keyed by path and modification time.
type Digester struct {
	cache *lru.Cache[string, digestEntry]
}

// NewDigester creates a digester with the given cache size.
func NewDigester(cacheSize int) *Digester {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, _ := lru.New[string, digestEntry](cacheSize)
	return &Digester{cache: cache}
}

// Digest returns a succinct per-file symbol listing for the workspace's
// source files, or an empty string when no source files are present.
func (d *Digester) Digest(dir string, files []string) string {
	var b strings.Builder
	for _, rel := range files {
		if !sourceExtensions[filepath.Ext(rel)] {
			continue
		}
		full := filepath.Join(dir, rel)
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		if entry, ok := d.cache.Get(full); ok && entry.modTime == info.ModTime().UnixNano() {
			b.WriteString(entry.digest)
			continue
		}
		digest := digestFile(full, rel)
		d.cache.Add(full, digestEntry{modTime: info.ModTime().UnixNano(), digest: digest})
		b.WriteString(digest)
	}
	return b.String()
}

func digestFile(full, rel string) string {
	f, err := os.Open(full)
	if err != nil {
		return ""
	}
	defer f.Close()

	var symbols []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(symbols) < 20 {
		line := scanner.Text()
		for _, pattern := range symbolPatterns {
			m := pattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			symbols = append(symbols, m[len(m)-1])
			break
		}
	}
	if len(symbols) == 0 {
		return ""
	}
	return fmt.Sprintf("%s: %s\n", rel, strings.Join(symbols, ", "))
}
