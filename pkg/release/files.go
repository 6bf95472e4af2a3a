package release

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"text/template"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"

	"github.com/jaysalvat/needle/build-tools/pkg"
	"github.com/jaysalvat/needle/build-tools/pkg/buildsys"
	"github.com/jaysalvat/needle/build-tools/pkg/config"
)

const dateFormat = "2006-01-02 15:04"

var (
	versionField   = regexp.MustCompile(`("version"\s*:\s*")([^"]*)(")`)
	copyrightField = regexp.MustCompile(`\(c\) \d{4}`)
)

func (s *Settings) clean(ctx context.Context) error {
	return s.remove(ctx, s.Config.Files.Dist)
}

func (s *Settings) tmpClean(ctx context.Context) error {
	return s.remove(ctx, s.Config.Files.Tmp)
}

func (s *Settings) remove(ctx context.Context, dir string) error {
	buildsys.Log(ctx).Info().Str("path", dir).Msgf("Removing %s", dir)
	err := s.Fs.RemoveAll(dir)
	if err != nil {
		return eris.Wrapf(err, "failed to remove %s", dir)
	}
	return nil
}

func (s *Settings) tmpCreate(ctx context.Context) error {
	err := s.Fs.MkdirAll(s.Config.Files.Tmp, 0o755)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", s.Config.Files.Tmp)
	}
	return nil
}

func (s *Settings) tmpCopy(ctx context.Context) error {
	return copyTree(s.Fs, s.Config.Files.Dist, s.Config.Files.Tmp)
}

// copySources copies the configured scripts into the dist folder
func (s *Settings) copySources(ctx context.Context) error {
	err := s.Fs.MkdirAll(s.Config.Files.Dist, 0o755)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", s.Config.Files.Dist)
	}

	for _, source := range s.Config.Files.Sources {
		dest := filepath.Join(s.Config.Files.Dist, filepath.Base(source))
		buildsys.Log(ctx).Debug().Str("path", source).Msgf("Copying %s to %s", source, dest)

		err = copyFile(s.Fs, source, dest)
		if err != nil {
			return err
		}
	}

	return nil
}

func copyFile(fs afero.Fs, src, dest string) error {
	info, err := fs.Stat(src)
	if err != nil {
		return eris.Wrapf(err, "failed to check %s", src)
	}

	data, err := afero.ReadFile(fs, src)
	if err != nil {
		return eris.Wrapf(err, "failed to read %s", src)
	}

	err = afero.WriteFile(fs, dest, data, info.Mode().Perm())
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", dest)
	}
	return nil
}

func copyTree(fs afero.Fs, src, dest string) error {
	return afero.Walk(fs, src, func(item string, info os.FileInfo, err error) error {
		if err != nil {
			return eris.Wrapf(err, "failed to read %s", item)
		}

		rel, err := filepath.Rel(src, item)
		if err != nil {
			return err
		}

		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return fs.MkdirAll(target, 0o755)
		}
		return copyFile(fs, item, target)
	})
}

type metadata struct {
	Date    string `json:"date"`
	Version string `json:"version"`
}

// meta writes the build date and version as JSON and as a JSONP style callback
func (s *Settings) meta(ctx context.Context) error {
	version, err := s.Version()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(metadata{
		Date:    s.Now().Format(dateFormat),
		Version: "v" + version.String(),
	}, "", "    ")
	if err != nil {
		return err
	}

	files := map[string][]byte{
		"metadata.json": data,
		"metadata.js":   append(append([]byte("__metadata("), data...), []byte(");")...),
	}
	for name, content := range files {
		dest := filepath.Join(s.Config.Files.Tmp, name)
		err = afero.WriteFile(s.Fs, dest, content, 0o644)
		if err != nil {
			return eris.Wrapf(err, "failed to write %s", dest)
		}
	}

	return nil
}

// bump increments the version in every package descriptor. Descriptors that don't exist are skipped.
func (s *Settings) bump(ctx context.Context) error {
	for _, file := range s.Config.Files.Manifests {
		exists, err := afero.Exists(s.Fs, file)
		if err != nil {
			return eris.Wrapf(err, "failed to check %s", file)
		}
		if !exists {
			buildsys.Log(ctx).Debug().Str("path", file).Msgf("Skipping missing %s", file)
			continue
		}

		current, err := s.manifestVersion(file)
		if err != nil {
			return err
		}

		next, err := config.IncrementVersion(current, s.Type)
		if err != nil {
			return err
		}

		data, err := afero.ReadFile(s.Fs, file)
		if err != nil {
			return eris.Wrapf(err, "failed to read %s", file)
		}

		loc := versionField.FindSubmatchIndex(data)
		if loc == nil {
			return eris.Errorf("no version field found in %s", file)
		}

		updated := make([]byte, 0, len(data)+8)
		updated = append(updated, data[:loc[4]]...)
		updated = append(updated, next.String()...)
		updated = append(updated, data[loc[5]:]...)

		err = afero.WriteFile(s.Fs, file, updated, 0o644)
		if err != nil {
			return eris.Wrapf(err, "failed to write %s", file)
		}

		buildsys.Log(ctx).Info().Str("path", file).Msgf("Bumped %s from %s to %s", file, current, next)
	}

	return nil
}

// license updates the copyright year
func (s *Settings) license(ctx context.Context) error {
	year := []byte("(c) " + s.Now().Format("2006"))

	for _, file := range s.Config.Files.Licenses {
		data, err := afero.ReadFile(s.Fs, file)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return eris.Wrapf(err, "failed to read %s", file)
		}

		err = afero.WriteFile(s.Fs, file, copyrightField.ReplaceAll(data, year), 0o644)
		if err != nil {
			return eris.Wrapf(err, "failed to write %s", file)
		}
	}

	return nil
}

type bannerVars struct {
	Name     string
	Author   string
	Homepage string
	Version  string
	Year     string
	Date     string
}

// header prepends the banner to every script in the dist folder
func (s *Settings) header(ctx context.Context) error {
	tpl, err := template.New("banner").Parse(s.Config.BannerTemplate())
	if err != nil {
		return eris.Wrap(err, "failed to parse the banner template")
	}

	version, err := s.Version()
	if err != nil {
		return err
	}

	now := s.Now()
	var banner bytes.Buffer
	err = tpl.Execute(&banner, bannerVars{
		Name:     s.Config.Project.Name,
		Author:   s.Config.Project.Author,
		Homepage: s.Config.Project.Homepage,
		Version:  version.String(),
		Year:     now.Format("2006"),
		Date:     now.Format(dateFormat),
	})
	if err != nil {
		return eris.Wrap(err, "failed to render the banner")
	}

	scripts, err := s.distScripts()
	if err != nil {
		return err
	}

	for _, script := range scripts {
		data, err := afero.ReadFile(s.Fs, script)
		if err != nil {
			return eris.Wrapf(err, "failed to read %s", script)
		}

		content := make([]byte, 0, banner.Len()+len(data))
		content = append(content, banner.Bytes()...)
		content = append(content, data...)

		err = afero.WriteFile(s.Fs, script, content, 0o644)
		if err != nil {
			return eris.Wrapf(err, "failed to write %s", script)
		}
	}

	return nil
}

func (s *Settings) distScripts() ([]string, error) {
	scripts, err := afero.Glob(s.Fs, filepath.Join(s.Config.Files.Dist, "*.js"))
	if err != nil {
		return nil, eris.Wrap(err, "failed to list scripts")
	}
	return scripts, nil
}

// compress writes brotli compressed copies of the built scripts
func (s *Settings) compress(ctx context.Context) error {
	scripts, err := s.distScripts()
	if err != nil {
		return err
	}

	for _, script := range scripts {
		dest, err := pkg.CompressFile(s.Fs, script)
		if err != nil {
			return err
		}

		buildsys.Log(ctx).Debug().Str("path", dest).Msgf("Wrote %s", dest)
	}

	return nil
}

func (s *Settings) archive(ext string) buildsys.Action {
	return func(ctx context.Context) error {
		dest := path.Join(s.Config.Files.Tmp, s.Config.Files.Out+ext)

		var bar *progressbar.ProgressBar
		if s.Progress {
			size, err := pkg.DirectorySize(s.Fs, s.Config.Files.Dist)
			if err != nil {
				return err
			}
			bar = s.progressBar(size)
		}

		buildsys.Log(ctx).Info().Str("path", dest).Msgf("Packing %s", dest)
		return pkg.PackArchive(s.Fs, dest, s.Config.Files.Dist, bar)
	}
}
