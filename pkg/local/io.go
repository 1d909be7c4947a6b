package local

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/nemanja-m/pulsar/pkg/core"
)

const (
	DefaultBufferSize = 1024 * 1024 // 1MB
)

// InputSource is a lazy, forward-only sequence of records. Next returns
// io.EOF once the sequence is exhausted.
type InputSource interface {
	Next() (string, error)
}

// LineSource reads newline-delimited records, skipping blank lines. Lines
// have no length limit.
type LineSource struct {
	reader *bufio.Reader
}

func NewLineSource(r io.Reader, bufferSize ...int) *LineSource {
	if len(bufferSize) == 0 {
		bufferSize = []int{DefaultBufferSize}
	}
	return &LineSource{reader: bufio.NewReaderSize(r, bufferSize[0])}
}

func (s *LineSource) Next() (string, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		if line == "" && err != nil {
			return "", io.EOF
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		if strings.TrimSpace(line) != "" {
			return line, nil
		}
		if err != nil {
			return "", io.EOF
		}
	}
}

// FileSource reads lines from a list of files, one after another. Each file
// is opened only when the previous one is exhausted.
type FileSource struct {
	files   []string
	current *os.File
	lines   *LineSource
}

// NewFileSource resolves pattern (a path or doublestar glob) into files.
func NewFileSource(pattern string) (*FileSource, error) {
	files, err := FindFiles(pattern)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files matched the input pattern: %s", pattern)
	}
	return &FileSource{files: files}, nil
}

func (s *FileSource) Next() (string, error) {
	for {
		if s.lines == nil {
			if len(s.files) == 0 {
				return "", io.EOF
			}
			file, err := os.Open(s.files[0])
			if err != nil {
				return "", err
			}
			s.files = s.files[1:]
			s.current = file
			s.lines = NewLineSource(file)
		}

		line, err := s.lines.Next()
		if err == nil {
			return line, nil
		}
		closeErr := s.current.Close()
		s.current, s.lines = nil, nil
		if !errors.Is(err, io.EOF) {
			return "", err
		}
		if closeErr != nil {
			return "", closeErr
		}
	}
}

func (s *FileSource) Close() error {
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current, s.lines = nil, nil
	return err
}

// SliceSource serves records from memory, skipping blank ones.
type SliceSource struct {
	records []string
}

func NewSliceSource(records ...string) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Next() (string, error) {
	for len(s.records) > 0 {
		record := s.records[0]
		s.records = s.records[1:]
		if strings.TrimSpace(record) != "" {
			return record, nil
		}
	}
	return "", io.EOF
}

// FindFiles returns regular files matching a doublestar glob pattern.
func FindFiles(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, name := range matches {
		info, err := os.Lstat(name)
		if err != nil {
			continue
		}
		if info.Mode().IsRegular() {
			files = append(files, name)
		}
	}
	return files, nil
}

// Sink consumes final results.
type Sink interface {
	Emit(key string, value core.Value) error
	Flush() error
}

type Format string

const (
	FormatPlain Format = "plain"
	FormatJSON  Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatPlain:
		return FormatPlain, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format: %q", s)
	}
}

// WriterSink renders results to a buffered writer. Emit is safe for
// concurrent use.
type WriterSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	format Format
}

func NewWriterSink(w io.Writer, format Format) *WriterSink {
	return &WriterSink{w: bufio.NewWriter(w), format: format}
}

func (s *WriterSink) Emit(key string, value core.Value) error {
	var line []byte
	switch s.format {
	case FormatJSON:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(map[string]core.Value{key: value}); err != nil {
			return err
		}
		line = buf.Bytes()
	default:
		line = []byte(key + ": " + value.String() + "\n")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(line)
	return err
}

func (s *WriterSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}
