package local

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/pulsar/pkg/core"
)

func drain(t *testing.T, src InputSource) []string {
	t.Helper()
	var records []string
	for {
		record, err := src.Next()
		if err == io.EOF {
			return records
		}
		require.NoError(t, err)
		records = append(records, record)
	}
}

func TestLineSource_SkipsBlankLines(t *testing.T) {
	src := NewLineSource(strings.NewReader("a b\n\n   \nc\r\nlast"))
	assert.Equal(t, []string{"a b", "c", "last"}, drain(t, src))
}

func TestLineSource_LongLines(t *testing.T) {
	long := strings.Repeat("x", 2*DefaultBufferSize)
	src := NewLineSource(strings.NewReader("a b\n"+long+"\nb c\n"), 16)
	records := drain(t, src)
	require.Len(t, records, 3)
	assert.Equal(t, "a b", records[0])
	assert.Equal(t, long, records[1])
	assert.Equal(t, "b c", records[2])
}

func TestFileSource_ReadsMatchedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "b.txt"), []byte("\nthree\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.log"), []byte("nope\n"), 0o644))

	src, err := NewFileSource(filepath.Join(dir, "**", "*.txt"))
	require.NoError(t, err)
	defer src.Close()

	records := drain(t, src)
	assert.ElementsMatch(t, []string{"one", "two", "three"}, records)
}

func TestFileSource_NoMatches(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "*.txt"))
	assert.ErrorContains(t, err, "no files matched")
}

func TestFindFiles_SkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub.txt"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), nil, 0o644))

	files, err := FindFiles(filepath.Join(dir, "*.txt"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "file.txt")}, files)
}

func TestSliceSource(t *testing.T) {
	src := NewSliceSource("a", "", " ", "b")
	assert.Equal(t, []string{"a", "b"}, drain(t, src))
}

func TestWriterSink(t *testing.T) {
	tests := []struct {
		format   Format
		expected string
	}{
		{FormatPlain, "hello: 2\nlist: [1,\"x\",null]\nname: pulsar\n"},
		{FormatJSON, "{\"hello\":2}\n{\"list\":[1,\"x\",null]}\n{\"name\":\"pulsar\"}\n"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			sink := NewWriterSink(&buf, tt.format)

			require.NoError(t, sink.Emit("hello", core.IntValue(2)))
			require.NoError(t, sink.Emit("list", core.ArrayValue(core.IntValue(1), core.StringValue("x"), core.Null())))
			require.NoError(t, sink.Emit("name", core.StringValue("pulsar")))
			assert.Empty(t, buf.String())

			require.NoError(t, sink.Flush())
			assert.Equal(t, tt.expected, buf.String())
		})
	}
}

func TestWriterSink_DoesNotEscapeHTML(t *testing.T) {
	for format, expected := range map[Format]string{
		FormatPlain: "a<b>: [\"<x>\",\"&\"]\n",
		FormatJSON:  "{\"a<b>\":[\"<x>\",\"&\"]}\n",
	} {
		var buf bytes.Buffer
		sink := NewWriterSink(&buf, format)
		require.NoError(t, sink.Emit("a<b>", core.ArrayValue(core.StringValue("<x>"), core.StringValue("&"))))
		require.NoError(t, sink.Flush())
		assert.Equal(t, expected, buf.String(), format)
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, format)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
