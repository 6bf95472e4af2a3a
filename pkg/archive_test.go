package pkg

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"io"
	"sort"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func distFs(t *testing.T) afero.Fs {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "dist/needle.js", []byte("var needle = {};\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "dist/needle.min.js", []byte("var needle={};"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "dist/maps/needle.min.js.map", []byte("{}"), 0o644))
	require.NoError(t, fs.MkdirAll("tmp", 0o755))
	return fs
}

func TestPackZip(t *testing.T) {
	fs := distFs(t)
	require.NoError(t, PackArchive(fs, "tmp/needle.zip", "dist", nil))

	data, err := afero.ReadFile(fs, "tmp/needle.zip")
	require.NoError(t, err)

	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	contents := map[string]string{}
	for _, item := range archive.File {
		if item.FileInfo().IsDir() {
			contents[item.Name] = ""
			continue
		}

		hdl, err := item.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(hdl)
		require.NoError(t, err)
		hdl.Close()

		contents[item.Name] = string(body)
	}

	require.Equal(t, map[string]string{
		"maps/":                  "",
		"maps/needle.min.js.map": "{}",
		"needle.js":              "var needle = {};\n",
		"needle.min.js":          "var needle={};",
	}, contents)
}

func TestPackTarXz(t *testing.T) {
	fs := distFs(t)
	require.NoError(t, PackArchive(fs, "tmp/needle.tar.xz", "dist", nil))

	data, err := afero.ReadFile(fs, "tmp/needle.tar.xz")
	require.NoError(t, err)

	reader, err := xz.NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	archive := tar.NewReader(reader)
	names := []string{}
	for {
		item, err := archive.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, item.Name)

		if item.Name == "needle.js" {
			body, err := io.ReadAll(archive)
			require.NoError(t, err)
			require.Equal(t, "var needle = {};\n", string(body))
		}
	}

	sort.Strings(names)
	require.Equal(t, []string{"maps/", "maps/needle.min.js.map", "needle.js", "needle.min.js"}, names)
}

func TestPackArchiveRejectsUnknownFormat(t *testing.T) {
	fs := distFs(t)
	require.Error(t, PackArchive(fs, "tmp/needle.rar", "dist", nil))
}

func TestCloseWithOpenDirectory(t *testing.T) {
	fs := distFs(t)
	writer, err := NewZipWriter(fs, "tmp/broken.zip")
	require.NoError(t, err)

	require.NoError(t, writer.OpenDirectory("maps"))
	require.Error(t, writer.Close())
}

func TestCloseDirectoryWithoutOpen(t *testing.T) {
	fs := distFs(t)
	writer, err := NewTarXzWriter(fs, "tmp/broken.tar.xz")
	require.NoError(t, err)

	require.Error(t, writer.CloseDirectory())
	require.NoError(t, writer.Close())
}

func TestDirectorySize(t *testing.T) {
	fs := distFs(t)
	size, err := DirectorySize(fs, "dist")
	require.NoError(t, err)
	require.Equal(t, int64(17+14+2), size)
}

func TestPackDirectoryWithProgressBar(t *testing.T) {
	t.Setenv("CI", "true")
	fs := distFs(t)
	bar := GetProgressBar(33, "packing")
	writer, err := NewZipWriter(fs, "tmp/needle.zip")
	require.NoError(t, err)

	require.NoError(t, PackDirectory(fs, writer, "dist", bar))
	require.NoError(t, writer.Close())
	require.NoError(t, bar.Finish())
}

func TestCompressFile(t *testing.T) {
	fs := distFs(t)
	dest, err := CompressFile(fs, "dist/needle.js")
	require.NoError(t, err)
	require.Equal(t, "dist/needle.js.br", dest)

	hdl, err := fs.Open(dest)
	require.NoError(t, err)
	defer hdl.Close()

	body, err := io.ReadAll(brotli.NewReader(hdl))
	require.NoError(t, err)
	require.Equal(t, "var needle = {};\n", string(body))
}
