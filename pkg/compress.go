package pkg

import (
	"io"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
)

// BrotliSuffix is appended to the name of compressed files
const BrotliSuffix = ".br"

// CompressFile writes a brotli compressed copy of filename next to it and returns the new path
func CompressFile(fs afero.Fs, filename string) (string, error) {
	src, err := fs.Open(filename)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to open %s", filename)
	}
	defer src.Close()

	destPath := filename + BrotliSuffix
	dest, err := fs.Create(destPath)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to create %s", destPath)
	}
	defer dest.Close()

	brw := brotli.NewWriterLevel(dest, brotli.BestCompression)
	_, err = io.CopyBuffer(brw, src, make([]byte, 4096))
	if err != nil {
		return "", eris.Wrapf(err, "Failed to compress %s", filename)
	}

	err = brw.Close()
	if err != nil {
		return "", eris.Wrapf(err, "Failed to compress %s", filename)
	}

	return destPath, dest.Close()
}
