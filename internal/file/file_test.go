package file_test

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavedrop/wavedrop/internal/file"
	"github.com/wavedrop/wavedrop/internal/session"
)

func artifact(t *testing.T, name string, data []byte) session.Artifact {
	t.Helper()
	s := session.New()
	s.OnFileInfo(name, int64(len(data)))
	s.OnChunk(data)
	epoch, expected := s.OnFileEnd(nil)
	require.True(t, s.Settle(epoch, expected))
	a, err := s.Finalize()
	require.NoError(t, err)
	return a
}

type entry struct {
	name string
	dir  bool
	body string
}

func archive(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := pgzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, e := range entries {
		header := &tar.Header{Name: e.name, Mode: 0644, Typeflag: tar.TypeReg, Size: int64(len(e.body))}
		if e.dir {
			header = &tar.Header{Name: e.name, Mode: 0755, Typeflag: tar.TypeDir}
		}
		require.NoError(t, tw.WriteHeader(header))
		if !e.dir {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"dir/report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\notes.txt`, "notes.txt"},
		{"", file.DefaultName},
		{".", file.DefaultName},
		{"..", file.DefaultName},
		{"/", file.DefaultName},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, file.SanitizeName(tc.in))
		})
	}
}

func TestCommitter(t *testing.T) {
	t.Run("writes artifact", func(t *testing.T) {
		dir := t.TempDir()
		c, err := file.NewCommitter(dir, artifact(t, "../a.bin", []byte("hello")), true)
		require.NoError(t, err)
		assert.Equal(t, "a.bin", c.FileName())

		n, err := c.Commit()
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)

		b, err := os.ReadFile(filepath.Join(dir, "a.bin"))
		require.NoError(t, err)
		assert.Equal(t, "hello", string(b))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("existing file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), []byte("old"), 0644))

		c, err := file.NewCommitter(dir, artifact(t, "a.bin", []byte("new")), true)
		assert.ErrorIs(t, err, file.ErrFileExists)
		require.NotNil(t, c)

		_, err = c.Commit()
		require.NoError(t, err)
		b, err := os.ReadFile(filepath.Join(dir, "a.bin"))
		require.NoError(t, err)
		assert.Equal(t, "new", string(b))
	})

	t.Run("existing file without prompt", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), []byte("old"), 0644))
		_, err := file.NewCommitter(dir, artifact(t, "a.bin", []byte("new")), false)
		assert.NoError(t, err)
	})

	t.Run("creates output directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "out")
		c, err := file.NewCommitter(dir, artifact(t, "a.bin", []byte("x")), false)
		require.NoError(t, err)
		_, err = c.Commit()
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(dir, "a.bin"))
	})
}

func TestIsArchive(t *testing.T) {
	assert.True(t, file.IsArchive(artifact(t, "a.tar.gz", archive(t, entry{name: "a.txt", body: "a"}))))
	assert.False(t, file.IsArchive(artifact(t, "a.txt", []byte("plain text"))))
	assert.False(t, file.IsArchive(artifact(t, "a", []byte{0x1f})))
}

func TestUnpacker(t *testing.T) {
	unpackAll := func(t *testing.T, dir string, prompt bool, data []byte) ([]string, error) {
		t.Helper()
		u, err := file.NewUnpacker(dir, prompt, bytes.NewReader(data))
		require.NoError(t, err)
		defer u.Close()

		var names []string
		for {
			c, err := u.Unpack()
			if err == io.EOF {
				return names, nil
			}
			if err != nil {
				return names, err
			}
			_, err = c.Commit()
			require.NoError(t, err)
			names = append(names, c.FileName())
		}
	}

	t.Run("extracts entries", func(t *testing.T) {
		dir := t.TempDir()
		data := archive(t,
			entry{name: "docs/", dir: true},
			entry{name: "docs/a.txt", body: "alpha"},
			entry{name: "b.txt", body: "beta"},
		)
		names, err := unpackAll(t, dir, false, data)
		require.NoError(t, err)
		assert.Len(t, names, 3)

		b, err := os.ReadFile(filepath.Join(dir, "docs", "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, "alpha", string(b))
		b, err = os.ReadFile(filepath.Join(dir, "b.txt"))
		require.NoError(t, err)
		assert.Equal(t, "beta", string(b))
	})

	t.Run("refuses escaping entries", func(t *testing.T) {
		root := t.TempDir()
		dir := filepath.Join(root, "out")
		_, err := unpackAll(t, dir, false, archive(t, entry{name: "../evil.txt", body: "x"}))
		assert.ErrorIs(t, err, file.ErrUnsafePath)
		assert.NoFileExists(t, filepath.Join(root, "evil.txt"))
	})

	t.Run("prompts for existing files", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("old"), 0644))

		u, err := file.NewUnpacker(dir, true, bytes.NewReader(archive(t, entry{name: "b.txt", body: "new"})))
		require.NoError(t, err)
		defer u.Close()

		c, err := u.Unpack()
		assert.ErrorIs(t, err, file.ErrFileExists)
		require.NotNil(t, c)
		assert.Equal(t, "b.txt", c.FileName())
	})

	t.Run("not gzip", func(t *testing.T) {
		_, err := file.NewUnpacker(t.TempDir(), false, strings.NewReader("plain"))
		assert.Error(t, err)
	})
}

func TestRemoveTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{file.ReceiveTempFilePrefix + "123", file.ReceiveTempFilePrefix + "456", "keep.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	file.RemoveTemporaryFiles(dir, file.ReceiveTempFilePrefix)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep.txt", entries[0].Name())
}
