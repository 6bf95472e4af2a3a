// Package release registers the build and release tasks of the Needle library.
package release

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"

	"github.com/jaysalvat/needle/build-tools/pkg"
	"github.com/jaysalvat/needle/build-tools/pkg/buildsys"
	"github.com/jaysalvat/needle/build-tools/pkg/config"
)

// Executor runs shell scripts in the project root
type Executor interface {
	Exec(ctx context.Context, script string) (buildsys.CommandResult, error)
}

// Settings carries everything the task actions need. All paths are relative to the root of Fs.
type Settings struct {
	Config   *config.Config
	Fs       afero.Fs
	Exec     Executor
	Type     string
	Progress bool
	Now      func() time.Time

	barLock sync.Mutex
	bar     *progressbar.ProgressBar
}

// NewSettings builds the settings for the project in projectRoot. options["type"] overrides the
// configured release type.
func NewSettings(cfg *config.Config, projectRoot string, options map[string]string) (*Settings, error) {
	kind := cfg.Release.Type
	if value, ok := options["type"]; ok && value != "" {
		kind = value
	}

	err := config.ValidateReleaseType(kind)
	if err != nil {
		return nil, eris.Wrap(err, "invalid type option")
	}

	return &Settings{
		Config:   cfg,
		Fs:       afero.NewBasePathFs(afero.NewOsFs(), projectRoot),
		Exec:     buildsys.NewShell(projectRoot, nil, os.Stdout, os.Stderr),
		Type:     kind,
		Progress: os.Getenv("CI") != "true",
		Now:      time.Now,
	}, nil
}

type manifest struct {
	Version string `json:"version"`
}

// Version returns the version stored in the first package descriptor
func (s *Settings) Version() (*semver.Version, error) {
	if len(s.Config.Files.Manifests) == 0 {
		return nil, eris.New("no package descriptor configured")
	}

	return s.manifestVersion(s.Config.Files.Manifests[0])
}

func (s *Settings) manifestVersion(file string) (*semver.Version, error) {
	data, err := afero.ReadFile(s.Fs, file)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", file)
	}

	var meta manifest
	err = json.Unmarshal(data, &meta)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", file)
	}

	version, err := semver.NewVersion(meta.Version)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid version %q in %s", meta.Version, file)
	}

	return version, nil
}

// progressBar returns the bar shared by the archives packed concurrently. Every caller
// adds size to its total. A new bar starts once the previous one is full.
func (s *Settings) progressBar(size int64) *progressbar.ProgressBar {
	s.barLock.Lock()
	defer s.barLock.Unlock()

	if s.bar == nil || s.bar.IsFinished() {
		s.bar = pkg.GetProgressBar(size, "Packing archives")
		return s.bar
	}

	s.bar.ChangeMax64(s.bar.GetMax64() + size)
	return s.bar
}

func (s *Settings) exec(ctx context.Context, args ...string) (buildsys.CommandResult, error) {
	return s.Exec.Exec(ctx, buildsys.Command(args...))
}
