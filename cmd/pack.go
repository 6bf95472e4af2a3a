package cmd

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jaysalvat/needle/build-tools/pkg"
)

type writerFactory func(fs afero.Fs, filename string) (pkg.ArchiveWriter, error)

func newPackCmd(use, format string, newWriter writerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   use + " archive_name content_directory",
		Short: "Recursively packs the content of the passed directory into a " + format,
		Long: `Pass the name of the archive that should be generated and a directory with
the intended contents.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return eris.New("Expected 2 arguments!")
			}

			archive, dir := args[0], args[1]
			fs := afero.NewOsFs()

			size, err := pkg.DirectorySize(fs, dir)
			if err != nil {
				return err
			}

			writer, err := newWriter(fs, archive)
			if err != nil {
				return err
			}

			pkg.PrintTask("Packing " + archive)
			err = pkg.PackDirectory(fs, writer, dir, pkg.GetProgressBar(size, archive))
			if err != nil {
				writer.Close()
				pkg.PrintError(err.Error())
				return err
			}

			err = writer.Close()
			if err != nil {
				return err
			}

			pkg.PrintSubtask("Done")
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newPackCmd("pack-zip", "zip archive", func(fs afero.Fs, filename string) (pkg.ArchiveWriter, error) {
		return pkg.NewZipWriter(fs, filename)
	}))
	rootCmd.AddCommand(newPackCmd("pack-txz", "xz compressed tarball", func(fs afero.Fs, filename string) (pkg.ArchiveWriter, error) {
		return pkg.NewTarXzWriter(fs, filename)
	}))
}
