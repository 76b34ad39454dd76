package slice

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TimelordUK/logdata/internal/source"
)

// Info contains metadata about a slice
type Info struct {
	SourcePath string // Original file path
	CachePath  string // Written file path
	StartLine  int    // Start line in the view (0-based, inclusive)
	EndLine    int    // End line in the view (0-based, exclusive)
	Lines      int    // Lines written
}

// Slicer writes portions of a view to files
type Slicer struct {
	cacheDir string
}

// NewSlicer creates a slicer writing to the system temp directory
func NewSlicer() *Slicer {
	return &Slicer{
		cacheDir: os.TempDir(),
	}
}

// NewSlicerIn creates a slicer writing to dir
func NewSlicerIn(dir string) *Slicer {
	return &Slicer{cacheDir: dir}
}

// SliceToEnd extracts from startLine to the end of the view
func (s *Slicer) SliceToEnd(data source.LogData, sourcePath string, startLine int) (*Info, error) {
	return s.SliceRange(data, sourcePath, startLine, data.LineCount())
}

// SliceRange extracts lines from startLine to endLine (exclusive). data may
// be any view, so slicing a filtered view saves only its lines.
func (s *Slicer) SliceRange(data source.LogData, sourcePath string, startLine, endLine int) (*Info, error) {
	if startLine < 0 {
		startLine = 0
	}
	if endLine > data.LineCount() {
		endLine = data.LineCount()
	}
	if startLine >= endLine {
		return nil, fmt.Errorf("invalid range: %d-%d", startLine, endLine)
	}

	baseName := filepath.Base(sourcePath)
	cachePath := filepath.Join(s.cacheDir, fmt.Sprintf("logdata-slice-%d-%d-%s", startLine, endLine, baseName))

	if err := writeLines(data, cachePath, startLine, endLine); err != nil {
		os.Remove(cachePath)
		return nil, err
	}

	return &Info{
		SourcePath: sourcePath,
		CachePath:  cachePath,
		StartLine:  startLine,
		EndLine:    endLine,
		Lines:      endLine - startLine,
	}, nil
}

// SaveTo writes every line of data to path
func (s *Slicer) SaveTo(data source.LogData, path string) (*Info, error) {
	if err := writeLines(data, path, 0, data.LineCount()); err != nil {
		os.Remove(path)
		return nil, err
	}
	return &Info{
		CachePath: path,
		EndLine:   data.LineCount(),
		Lines:     data.LineCount(),
	}, nil
}

func writeLines(data source.LogData, path string, start, end int) error {
	outFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create slice file: %w", err)
	}
	defer outFile.Close()

	w := bufio.NewWriter(outFile)
	for i := start; i < end; i++ {
		text, err := data.LineString(i)
		if err != nil {
			return fmt.Errorf("failed to read line %d: %w", i, err)
		}
		if _, err := w.WriteString(text); err != nil {
			return fmt.Errorf("failed to write line %d: %w", i, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush slice file: %w", err)
	}
	return outFile.Close()
}

// Cleanup removes a slice's file
func (s *Slicer) Cleanup(info *Info) error {
	if info == nil || info.CachePath == "" {
		return nil
	}
	return os.Remove(info.CachePath)
}
