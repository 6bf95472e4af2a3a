package pkg

import (
	"archive/tar"
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"github.com/ulikunitz/xz"
)

// ArchiveWriter is implemented by all archive formats PackDirectory can write
type ArchiveWriter interface {
	// OpenDirectory creates a new directory entry. Anything created until the next CloseDirectory() call will be
	// created inside this directory.
	OpenDirectory(dirname string) error
	// CloseDirectory closes the directory that was last opened
	CloseDirectory() error
	// WriteFile creates a new file in the current archive directory
	WriteFile(filename string, info os.FileInfo, reader io.Reader) error
	// Close finishes the archive and closes the underlying file
	Close() error
}

// dirStack tracks the archive directory entries are currently written to
type dirStack struct {
	stack []string
}

func (s *dirStack) push(dirname string) string {
	name := path.Join(s.current(), dirname)
	s.stack = append(s.stack, name)
	return name
}

func (s *dirStack) pop() error {
	if len(s.stack) < 1 {
		return eris.New("No directory left on stack")
	}

	s.stack = s.stack[:len(s.stack)-1]
	return nil
}

func (s *dirStack) current() string {
	if len(s.stack) == 0 {
		return ""
	}
	return s.stack[len(s.stack)-1]
}

func (s *dirStack) entryName(filename string) string {
	return path.Join(s.current(), filename)
}

// ZipWriter writes deflated .zip archives
type ZipWriter struct {
	dirStack
	hdl    afero.File
	writer *zip.Writer
	buffer []byte
}

// NewZipWriter creates a new ZipWriter instance and opens it for writing
func NewZipWriter(fs afero.Fs, filename string) (*ZipWriter, error) {
	hdl, err := fs.Create(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create %s", filename)
	}

	return &ZipWriter{
		hdl:    hdl,
		writer: zip.NewWriter(hdl),
		buffer: make([]byte, 4096),
	}, nil
}

// OpenDirectory implements ArchiveWriter
func (w *ZipWriter) OpenDirectory(dirname string) error {
	name := w.push(dirname)
	_, err := w.writer.CreateHeader(&zip.FileHeader{
		Name:   name + "/",
		Method: zip.Store,
	})
	return err
}

// CloseDirectory implements ArchiveWriter
func (w *ZipWriter) CloseDirectory() error {
	return w.pop()
}

// WriteFile implements ArchiveWriter
func (w *ZipWriter) WriteFile(filename string, info os.FileInfo, reader io.Reader) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	header.Name = w.entryName(filename)
	header.Method = zip.Deflate

	entry, err := w.writer.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.CopyBuffer(entry, reader, w.buffer)
	return err
}

// Close implements ArchiveWriter
func (w *ZipWriter) Close() error {
	if len(w.stack) != 0 {
		w.hdl.Close()
		return eris.New("Open directories left over!")
	}

	err := w.writer.Close()
	if err != nil {
		w.hdl.Close()
		return err
	}

	return w.hdl.Close()
}

// TarXzWriter writes xz compressed tarballs
type TarXzWriter struct {
	dirStack
	hdl     afero.File
	xz      *xz.Writer
	writer  *tar.Writer
	buffer  []byte
	created time.Time
}

// NewTarXzWriter creates a new TarXzWriter instance and opens it for writing
func NewTarXzWriter(fs afero.Fs, filename string) (*TarXzWriter, error) {
	hdl, err := fs.Create(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create %s", filename)
	}

	xzw, err := xz.NewWriter(hdl)
	if err != nil {
		hdl.Close()
		return nil, eris.Wrap(err, "Failed to initialize xz compressor")
	}

	return &TarXzWriter{
		hdl:     hdl,
		xz:      xzw,
		writer:  tar.NewWriter(xzw),
		buffer:  make([]byte, 4096),
		created: time.Now(),
	}, nil
}

// OpenDirectory implements ArchiveWriter
func (w *TarXzWriter) OpenDirectory(dirname string) error {
	name := w.push(dirname)
	return w.writer.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     name + "/",
		Mode:     0o755,
		ModTime:  w.created,
	})
}

// CloseDirectory implements ArchiveWriter
func (w *TarXzWriter) CloseDirectory() error {
	return w.pop()
}

// WriteFile implements ArchiveWriter
func (w *TarXzWriter) WriteFile(filename string, info os.FileInfo, reader io.Reader) error {
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}

	header.Name = w.entryName(filename)
	err = w.writer.WriteHeader(header)
	if err != nil {
		return err
	}

	_, err = io.CopyBuffer(w.writer, reader, w.buffer)
	return err
}

// Close implements ArchiveWriter
func (w *TarXzWriter) Close() error {
	if len(w.stack) != 0 {
		w.hdl.Close()
		return eris.New("Open directories left over!")
	}

	err := w.writer.Close()
	if err != nil {
		w.hdl.Close()
		return err
	}

	err = w.xz.Close()
	if err != nil {
		w.hdl.Close()
		return err
	}

	return w.hdl.Close()
}

// GetProgressBar returns a byte counting progress bar. It stays hidden on CI.
func GetProgressBar(length int64, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

// DirectorySize returns the combined size of all files below dir
func DirectorySize(fs afero.Fs, dir string) (int64, error) {
	size := int64(0)
	err := afero.Walk(fs, dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrapf(err, "Failed to scan %s", dir)
	}

	return size, nil
}

// PackDirectory recursively writes the content of dir into the archive. bar is optional and advanced by the
// number of bytes packed.
func PackDirectory(fs afero.Fs, writer ArchiveWriter, dir string, bar *progressbar.ProgressBar) error {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return eris.Wrapf(err, "Failed to read dir %s", dir)
	}

	for _, info := range infos {
		itemPath := filepath.Join(dir, info.Name())
		if info.IsDir() {
			err = writer.OpenDirectory(info.Name())
			if err != nil {
				return eris.Wrapf(err, "Failed to add directory %s", itemPath)
			}

			err = PackDirectory(fs, writer, itemPath, bar)
			if err != nil {
				return err
			}

			err = writer.CloseDirectory()
			if err != nil {
				return err
			}
			continue
		}

		err = packFile(fs, writer, itemPath, info, bar)
		if err != nil {
			return err
		}
	}

	return nil
}

func packFile(fs afero.Fs, writer ArchiveWriter, itemPath string, info os.FileInfo, bar *progressbar.ProgressBar) error {
	f, err := fs.Open(itemPath)
	if err != nil {
		return eris.Wrapf(err, "Failed to open file %s", itemPath)
	}
	defer f.Close()

	var reader io.Reader = f
	if bar != nil {
		reader = io.TeeReader(f, bar)
	}

	err = writer.WriteFile(info.Name(), info, reader)
	if err != nil {
		return eris.Wrapf(err, "Failed to pack file %s", itemPath)
	}

	return nil
}

// PackArchive creates filename and fills it with the content of dir. The format is picked by the file
// extension (.zip or .tar.xz).
func PackArchive(fs afero.Fs, filename, dir string, bar *progressbar.ProgressBar) error {
	var writer ArchiveWriter
	var err error

	switch {
	case strings.HasSuffix(filename, ".zip"):
		writer, err = NewZipWriter(fs, filename)
	case strings.HasSuffix(filename, ".tar.xz"), strings.HasSuffix(filename, ".txz"):
		writer, err = NewTarXzWriter(fs, filename)
	default:
		return eris.Errorf("Archive format of %s not supported", filename)
	}
	if err != nil {
		return err
	}

	err = PackDirectory(fs, writer, dir, bar)
	if err != nil {
		writer.Close()
		return err
	}

	return writer.Close()
}
