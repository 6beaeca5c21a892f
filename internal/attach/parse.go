package attach

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// maxArchiveDepth caps how deep nested archives are unpacked. Archives past
// the cap are skipped, not failed.
const maxArchiveDepth = 3

// workItem is one file awaiting text extraction. Archives push their
// extracted members back onto the worklist instead of recursing, so deeply
// nested archives cannot exhaust the call stack.
type workItem struct {
	path  string
	depth int
	// nested is true for files that came out of an archive; their text is
	// emitted under a header naming the file.
	nested bool
}

// ExtractText extracts text from a stored attachment, dispatching on file
// extension. Nested archive members contribute their text under a
// "=== name ===" header; members of unsupported formats contribute nothing.
// Temporary extraction directories are removed on every exit path.
func (p *Pipeline) ExtractText(path string) (string, error) {
	var tempDirs []string
	defer func() {
		for _, dir := range tempDirs {
			if err := os.RemoveAll(dir); err != nil {
				p.logger.Warn("temp dir cleanup failed", zap.String("dir", dir), zap.Error(err))
			}
		}
	}()

	queue := []workItem{{path: path}}
	var parts []string

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		ext := strings.ToLower(filepath.Ext(item.path))
		switch ext {
		case ".zip", ".7z", ".rar":
			if item.depth >= maxArchiveDepth {
				p.logger.Warn("archive nesting cap reached, skipping",
					zap.String("path", item.path),
					zap.Int("depth", item.depth),
				)
				continue
			}
			dir, err := os.MkdirTemp("", "regcrawler-archive-")
			if err != nil {
				return "", fmt.Errorf("create extraction dir: %w", err)
			}
			tempDirs = append(tempDirs, dir)
			if err := extractArchive(item.path, ext, dir); err != nil {
				if !item.nested {
					return "", fmt.Errorf("extract archive: %w", err)
				}
				p.logger.Warn("nested archive extraction failed",
					zap.String("path", item.path),
					zap.Error(err),
				)
				continue
			}
			members, err := listFiles(dir)
			if err != nil {
				return "", fmt.Errorf("walk extraction dir: %w", err)
			}
			for _, member := range members {
				queue = append(queue, workItem{path: member, depth: item.depth + 1, nested: true})
			}

		default:
			text, err := p.parseFile(item.path, ext)
			if err != nil {
				if !item.nested {
					return "", err
				}
				// One broken member must not abort its siblings.
				p.logger.Warn("nested file parse failed",
					zap.String("path", item.path),
					zap.Error(err),
				)
				continue
			}
			if text == "" {
				continue
			}
			if item.nested {
				text = fmt.Sprintf("=== %s ===\n%s", filepath.Base(item.path), text)
			}
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

func (p *Pipeline) parseFile(path, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return parsePDF(path)
	case ".docx":
		return parseDocx(path)
	case ".doc":
		// Legacy .doc is not parsed; surface the limitation instead of
		// failing silently.
		p.logger.Warn("legacy .doc attachment not parsed", zap.String("path", path))
		return fmt.Sprintf("[.doc 格式文件，需手动查看: %s]", filepath.Base(path)), nil
	case ".txt":
		return parseText(path)
	default:
		p.logger.Info("unsupported attachment format", zap.String("path", path), zap.String("ext", ext))
		return "", nil
	}
}

// parseText reads a plain-text file, dropping invalid UTF-8 bytes rather
// than failing on them.
func parseText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text file: %w", err)
	}
	return strings.ToValidUTF8(string(raw), ""), nil
}

func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
