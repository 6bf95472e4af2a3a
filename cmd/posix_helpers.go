package cmd

import (
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// expandArgs resolves glob patterns on Windows where the shell doesn't do it for us
func expandArgs(args []string, skipEmpty bool) ([]string, error) {
	if runtime.GOOS != "windows" {
		return args, nil
	}

	items := []string{}
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", arg)
		}

		if matches == nil {
			if skipEmpty {
				continue
			}
			return nil, eris.Errorf("Pattern %s produced no matches", arg)
		}

		items = append(items, matches...)
	}

	return items, nil
}

// destination checks the target of mv and cp. It returns true if dest is an existing directory.
func destination(dest string, itemCount int) (bool, error) {
	destParent := filepath.Dir(dest)
	info, err := os.Stat(destParent)
	if err != nil {
		return false, eris.Wrapf(err, "Could not find destination directory %s", destParent)
	}

	if !info.IsDir() {
		return false, eris.Errorf("%s is not a directory!", destParent)
	}

	info, err = os.Stat(dest)
	if err != nil && !eris.Is(err, os.ErrNotExist) {
		return false, eris.Wrapf(err, "Failed to retrieve info about destination %s", dest)
	}

	isDir := err == nil && info.IsDir()
	if itemCount > 1 && !isDir {
		return false, eris.Errorf("Can't copy or move multiple items to %s because it is not a directory!", dest)
	}

	return isDir, nil
}

var mvCmd = &cobra.Command{
	Use:   "mv",
	Short: "Cross-platform implementation of the POSIX mv command",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 2 {
			return eris.New("Not enough parameters")
		}

		dest := filepath.Clean(args[len(args)-1])
		items, err := expandArgs(args[:len(args)-1], false)
		if err != nil {
			return err
		}

		destIsDir, err := destination(dest, len(items))
		if err != nil {
			return err
		}

		for _, item := range items {
			itemDest := dest
			if destIsDir {
				itemDest = filepath.Join(dest, filepath.Base(item))
			}

			err = os.Rename(item, itemDest)
			if err != nil {
				return eris.Wrapf(err, "Failed to move %s to %s", item, itemDest)
			}
		}

		return nil
	},
}

var cpCmd = &cobra.Command{
	Use:   "cp",
	Short: "A cross-platform implementation of the POSIX cp command",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 2 {
			return eris.New("Not enough parameters")
		}

		recursive, err := cmd.Flags().GetBool("recursive")
		if err != nil {
			return err
		}

		dest := filepath.Clean(args[len(args)-1])
		items, err := expandArgs(args[:len(args)-1], false)
		if err != nil {
			return err
		}

		destIsDir, err := destination(dest, len(items))
		if err != nil {
			return err
		}

		for _, item := range items {
			itemDest := dest
			if destIsDir {
				itemDest = filepath.Join(dest, filepath.Base(item))
			}

			err = copyPath(item, itemDest, recursive)
			if err != nil {
				return err
			}
		}

		return nil
	},
}

func copyPath(src, dest string, recursive bool) error {
	info, err := os.Stat(src)
	if err != nil {
		return eris.Wrapf(err, "Could not stat %s", src)
	}

	if !info.IsDir() {
		return copyRegularFile(src, dest, info.Mode())
	}

	if !recursive {
		return eris.Errorf("%s is a directory but -r wasn't passed", src)
	}

	return filepath.Walk(src, func(item string, info os.FileInfo, err error) error {
		if err != nil {
			return eris.Wrapf(err, "Failed to read %s", item)
		}

		rel, err := filepath.Rel(src, item)
		if err != nil {
			return err
		}

		target := filepath.Join(dest, rel)
		if info.IsDir() {
			err = os.MkdirAll(target, 0770)
			if err != nil {
				return eris.Wrapf(err, "Failed to create %s", target)
			}
			return nil
		}

		return copyRegularFile(item, target, info.Mode())
	})
}

func copyRegularFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "Failed to open %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", dest)
	}

	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()
		return eris.Wrapf(err, "Failed to copy %s to %s", src, dest)
	}

	return out.Close()
}

var rmCmd = &cobra.Command{
	Use:   "rm",
	Short: "A cross-platform implementation of the POSIX rm command",
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, err := cmd.Flags().GetBool("recursive")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		items, err := expandArgs(args, force)
		if err != nil {
			return err
		}

		for _, item := range items {
			info, err := os.Stat(item)
			if err != nil {
				if force && eris.Is(err, os.ErrNotExist) {
					continue
				}
				return eris.Wrapf(err, "Could not stat %s", item)
			}

			if info.IsDir() && !recursive {
				return eris.Errorf("%s is a directory but -r wasn't passed", item)
			}
		}

		for _, item := range items {
			err := os.RemoveAll(item)
			if err != nil && (!force || !eris.Is(err, os.ErrNotExist)) {
				return eris.Wrapf(err, "Could not delete %s", item)
			}
		}

		return nil
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir",
	Short: "A cross-platform implementation of the POSIX mkdir command",
	RunE: func(cmd *cobra.Command, args []string) error {
		makeParents, err := cmd.Flags().GetBool("parents")
		if err != nil {
			return err
		}

		for _, item := range args {
			if makeParents {
				err = os.MkdirAll(item, 0770)
			} else {
				err = os.Mkdir(item, 0770)
			}

			if err != nil {
				return eris.Wrapf(err, "Failed to create %s", item)
			}
		}

		return nil
	},
}

func init() {
	rmCmd.Flags().BoolP("recursive", "r", false, "recursively delete directories")
	rmCmd.Flags().BoolP("force", "f", false, "suppresses errors caused by missing files/folders")
	mkdirCmd.Flags().BoolP("parents", "p", false, "create parent directories as needed")
	cpCmd.Flags().BoolP("recursive", "r", false, "recursively copy directories")

	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(cpCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mkdirCmd)
}
