package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softonit/textract/ingest"
)

func testBudget() ingest.Budget {
	return ingest.Budget{
		MaxInputBytes:     1 << 20,
		MaxArchiveBytes:   1 << 20,
		MaxExpandedBytes:  1 << 20,
		MaxNestingDepth:   3,
		ProcessingTimeout: time.Minute,
	}
}

func buildZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func buildTarGz(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, data := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	_, err := gw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return gzBuf.Bytes()
}

func collect(t *testing.T, data []byte, archiveType string, budget ingest.Budget) ([]ingest.ContentUnit, error) {
	t.Helper()
	workdir := t.TempDir()
	state := ingest.NewExpansionState(budget)
	var units []ingest.ContentUnit
	err := New(nil).Unpack(context.Background(), data, archiveType, budget, state,
		workdir, map[string]struct{}{}, func(u ingest.ContentUnit) error {
			units = append(units, u)
			return nil
		})
	return units, err
}

func TestUnpackZip(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"readme.txt":       []byte("hello"),
		"docs/report.pdf":  []byte("%PDF-1.7 fake body"),
		"__MACOSX/._junk":  []byte("resource fork"),
		".DS_Store":        []byte("finder"),
		"empty.txt":        nil,
		"dir/.placeholder": []byte("x"),
	})

	units, err := collect(t, data, "application/zip", testBudget())
	require.NoError(t, err)

	names := map[string]ingest.ContentUnit{}
	for _, u := range units {
		names[u.OriginalName] = u
	}

	assert.Contains(t, names, "readme.txt")
	assert.Contains(t, names, "docs/report.pdf")
	assert.Contains(t, names, "empty.txt")
	assert.NotContains(t, names, "__MACOSX/._junk")
	assert.NotContains(t, names, ".DS_Store")

	assert.Equal(t, "docs_report.pdf", names["docs/report.pdf"].SanitizedPath)
	assert.Equal(t, "application/pdf", names["docs/report.pdf"].SniffedType)
	assert.Equal(t, int64(0), names["empty.txt"].SizeBytes)
}

func TestUnpackZipBomb(t *testing.T) {
	// 1KB of zeros compresses to almost nothing but expands past the
	// tiny budget; the unpack must abort mid-stream.
	payload := bytes.Repeat([]byte{0}, 64*1024)
	data := buildZip(t, map[string][]byte{
		"a.bin": payload,
		"b.bin": payload,
	})

	budget := testBudget()
	budget.MaxExpandedBytes = 70 * 1024

	workdir, err := os.MkdirTemp("", "unpack-test-")
	require.NoError(t, err)
	defer os.RemoveAll(workdir)

	state := ingest.NewExpansionState(budget)
	err = New(nil).Unpack(context.Background(), data, "application/zip", budget, state,
		workdir, map[string]struct{}{}, func(ingest.ContentUnit) error { return nil })

	require.Error(t, err)
	assert.Equal(t, ingest.ReasonResourceExceeded, ingest.ReasonOf(err))

	// The second entry must never have been spooled.
	entries, err := os.ReadDir(workdir)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), 1)
}

func TestUnpackCompressedSizeGuard(t *testing.T) {
	data := buildZip(t, map[string][]byte{"a.txt": []byte("hi")})
	budget := testBudget()
	budget.MaxArchiveBytes = 8

	_, err := collect(t, data, "application/zip", budget)
	require.Error(t, err)
	assert.Equal(t, ingest.ReasonInputTooLarge, ingest.ReasonOf(err))
}

func TestUnpackTraversalEntries(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"../../etc/passwd": []byte("root:x:0:0"),
		"/abs/path.txt":    []byte("abs"),
	})

	workdir := t.TempDir()
	state := ingest.NewExpansionState(testBudget())
	var units []ingest.ContentUnit
	err := New(nil).Unpack(context.Background(), data, "application/zip", testBudget(), state,
		workdir, map[string]struct{}{}, func(u ingest.ContentUnit) error {
			units = append(units, u)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, units, 2)

	for _, u := range units {
		assert.NotContains(t, u.SanitizedPath, "..")
		assert.False(t, strings.ContainsAny(u.SanitizedPath, `/\`),
			"sanitized path %q must be flat", u.SanitizedPath)
	}

	// Nothing may exist outside the working directory; the spooled files
	// all live directly under it.
	entries, err := os.ReadDir(workdir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestUnpackNestingDepth(t *testing.T) {
	// innermost.zip inside middle.zip inside outer.zip, with depth 1:
	// outer expands, middle surfaces as an unexpanded leaf.
	inner := buildZip(t, map[string][]byte{"secret.txt": []byte("deep")})
	middle := buildZip(t, map[string][]byte{"inner.zip": inner})
	outer := buildZip(t, map[string][]byte{"middle.zip": middle, "top.txt": []byte("top")})

	budget := testBudget()
	budget.MaxNestingDepth = 1

	units, err := collect(t, outer, "application/zip", budget)
	require.NoError(t, err)

	byName := map[string]ingest.ContentUnit{}
	for _, u := range units {
		byName[u.OriginalName] = u
	}

	assert.Contains(t, byName, "top.txt")
	// middle.zip was entered (depth 0 -> 1), inner.zip was not.
	assert.Contains(t, byName, "inner.zip")
	assert.Equal(t, "application/zip", byName["inner.zip"].SniffedType)
	assert.NotContains(t, byName, "secret.txt")
}

func TestUnpackFullNesting(t *testing.T) {
	inner := buildZip(t, map[string][]byte{"secret.txt": []byte("deep")})
	outer := buildZip(t, map[string][]byte{"inner.zip": inner})

	units, err := collect(t, outer, "application/zip", testBudget())
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "secret.txt", units[0].OriginalName)
	assert.Equal(t, []byte("deep"), units[0].Bytes)
}

func TestUnpackTarGz(t *testing.T) {
	data := buildTarGz(t, map[string][]byte{
		"notes/a.txt": []byte("alpha"),
		"notes/b.txt": []byte("beta"),
	})

	units, err := collect(t, data, "application/gzip", testBudget())
	require.NoError(t, err)
	require.Len(t, units, 2)

	var names []string
	for _, u := range units {
		names = append(names, u.SanitizedPath)
	}
	assert.ElementsMatch(t, []string{"notes_a.txt", "notes_b.txt"}, names)
}

func TestUnpackGzipSingleFile(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte("plain payload inside gzip"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	units, err := collect(t, buf.Bytes(), "application/gzip", testBudget())
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, []byte("plain payload inside gzip"), units[0].Bytes)
	assert.Equal(t, "text/plain", units[0].SniffedType)
}

func TestUnpackGzipKeepsHeaderName(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Name = "notes.txt"
	_, err := gw.Write([]byte("named gzip member"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	units, err := collect(t, buf.Bytes(), "application/gzip", testBudget())
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "notes.txt", units[0].SanitizedPath)
	assert.Equal(t, "notes.txt", units[0].OriginalName)
}

func TestUnpackForgedEntryExtension(t *testing.T) {
	// A zip payload hiding behind a .txt entry name must fail the whole
	// ingest, even when the depth budget would leave it unexpanded.
	inner := buildZip(t, map[string][]byte{"payload.txt": []byte("smuggled")})
	data := buildZip(t, map[string][]byte{
		"innocent.txt": inner,
	})

	budget := testBudget()
	budget.MaxNestingDepth = 0

	units, err := collect(t, data, "application/zip", budget)
	require.Error(t, err)
	assert.Equal(t, ingest.ReasonTypeMismatch, ingest.ReasonOf(err))
	assert.Contains(t, err.Error(), "innocent.txt")
	assert.Empty(t, units)
}

func TestUnpackForgedEntryWithinDepthBudget(t *testing.T) {
	// Forgery detection must not depend on whether the nested archive
	// would have been expanded.
	inner := buildZip(t, map[string][]byte{"payload.txt": []byte("smuggled")})
	data := buildZip(t, map[string][]byte{
		"notes.md": inner,
	})

	_, err := collect(t, data, "application/zip", testBudget())
	require.Error(t, err)
	assert.Equal(t, ingest.ReasonTypeMismatch, ingest.ReasonOf(err))
}

func TestUnpackMalformed(t *testing.T) {
	_, err := collect(t, []byte("PK\x03\x04 but not really a zip"), "application/zip", testBudget())
	require.Error(t, err)
	assert.Equal(t, ingest.ReasonMalformedArchive, ingest.ReasonOf(err))
}

func TestUnpackExpiredDeadline(t *testing.T) {
	data := buildZip(t, map[string][]byte{"a.txt": []byte("hi")})
	budget := testBudget()
	state := &ingest.ExpansionState{Deadline: time.Now().Add(-time.Second)}

	err := New(nil).Unpack(context.Background(), data, "application/zip", budget, state,
		t.TempDir(), map[string]struct{}{}, func(ingest.ContentUnit) error { return nil })
	require.Error(t, err)
	assert.Equal(t, ingest.ReasonTimeout, ingest.ReasonOf(err))
}

func TestUnpackEmptyArchiveIsNotAnError(t *testing.T) {
	data := buildZip(t, map[string][]byte{".DS_Store": []byte("junk only")})
	units, err := collect(t, data, "application/zip", testBudget())
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestUnpackCollidingEntryNames(t *testing.T) {
	// Two entries that flatten to the same sanitized name must not
	// overwrite each other.
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"a/file.txt", "a\\file.txt"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(name))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	units, err := collect(t, buf.Bytes(), "application/zip", testBudget())
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.NotEqual(t, units[0].SanitizedPath, units[1].SanitizedPath)
}
