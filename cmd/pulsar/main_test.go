package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir changes the working directory for the test and restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func execute(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	chdir(t, t.TempDir())
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_DefaultWordCountFromStdin(t *testing.T) {
	code, stdout, stderr := execute(t, "b a\n\na\n", "-workers", "2")
	require.Equal(t, 0, code, stderr)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	assert.ElementsMatch(t, []string{"a: 2", "b: 1"}, lines)
}

func TestRun_SortedJSONFromFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.txt", "x y\n")
	writeFile(t, dir, "two.txt", "y\n")

	code, stdout, stderr := execute(t, "", "-f", filepath.Join(dir, "*.txt"), "-s", "builtin:wordcount-sorted", "-output", "json")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "{\"y\":2}\n{\"x\":1}\n", stdout)
}

func TestRun_ScriptFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "len.js", `
function map(line) { return [["chars", line.length]]; }
function reduce(key, values) { return values.reduce((a, b) => a + b, 0); }
`)

	code, stdout, stderr := execute(t, "abc\nde\n", "-s", path)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "chars: 5\n", stdout)
}

func TestRun_MissingReduceFails(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.js", `function map(line) { return []; }`)

	code, stdout, stderr := execute(t, "a\n", "-s", path)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "function not found")
}

func TestRun_SortRequired(t *testing.T) {
	code, _, stderr := execute(t, "a\n", "-sort")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "sort")
}

func TestRun_InvalidFlags(t *testing.T) {
	code, _, stderr := execute(t, "", "-sort", "-no-sort")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "mutually exclusive")

	code, _, stderr = execute(t, "", "-output", "xml")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "output.format")

	code, _, _ = execute(t, "", "frobnicate")
	assert.Equal(t, 2, code)
}

func TestRun_UnknownBuiltin(t *testing.T) {
	code, _, stderr := execute(t, "a\n", "-s", "builtin:nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "job not found")
	assert.Contains(t, stderr, "wordcount")
}

func TestRun_List(t *testing.T) {
	code, stdout, _ := execute(t, "", "list")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "wordcount")
	assert.Contains(t, stdout, "grep")
}

func TestRun_TestCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.js", "function map(l) { return []; }\nconst reduce = (k, v) => v.length;\n")
	bad := writeFile(t, dir, "bad.js", "function map(l) { return []; }\n")

	code, stdout, _ := execute(t, "", "test", good)
	assert.Equal(t, 0, code)
	assert.Equal(t, good+": OK\n", stdout)

	code, stdout, _ = execute(t, "", "test", good, bad)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, good+": OK\n")
	assert.Contains(t, stdout, bad+": FAIL")

	code, stdout, _ = execute(t, "", "test")
	assert.Equal(t, 0, code)
	assert.Equal(t, "OK\n", stdout)
}
