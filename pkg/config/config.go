package config

import (
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// FileName is the config file looked up in the project root
const FileName = "build.toml"

// DefaultBanner is prepended to every built script. It is a text/template receiving
// the project settings, the package version and the build time.
const DefaultBanner = `/*! {{.Name}} - Copyright (c) {{.Year}} {{.Author}}
 *  v{{.Version}} released {{.Date}}
 *  {{.Homepage}}
 */
`

// Config describes all configuration options
type Config struct {
	Log struct {
		Level string `default:"info"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
	Project struct {
		Name     string `default:"Needle"`
		Author   string `default:"Jay Salvat"`
		Homepage string `default:"http://needle.jaysalvat.com"`
		Banner   string `usage:"Template for the header prepended to built scripts"`
	}
	Release struct {
		Type string `default:"patch" usage:"Version increment (major, minor or patch)"`
	}
	Files struct {
		Sources   []string `default:"src/needle.js,src/needle.lite.js" usage:"Scripts copied and minified into dist"`
		Out       string   `default:"needle" usage:"Base name of the release archives"`
		Dist      string   `default:"dist"`
		Tmp       string   `default:"tmp"`
		Manifests []string `default:"package.json,bower.json" usage:"Package descriptors holding the version"`
		Licenses  []string `default:"LICENSE,README.md" usage:"Files carrying the copyright year"`
	}
	Git struct {
		Remote string `default:"origin"`
		Branch string `default:"master" usage:"Branch releases are made from"`
		Pages  string `default:"gh-pages" usage:"Branch the release archives are published to"`
	}
	Tools struct {
		Lint     string `default:"jshint src" usage:"Lint command"`
		TestDev  string `default:"qunit tests/test-runner.html" usage:"Test command for the sources"`
		TestDist string `default:"qunit tests/test-runner.html?dist" usage:"Test command for the built files"`
		Uglify   string `default:"uglifyjs {{.Input}} --compress --mangle --source-map --output {{.Output}}" usage:"Minifier command template"`
	}
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// The config file is only read if it exists.
func Loader(file string) (*Config, *aconfig.Loader) {
	files := []string{}
	if _, err := os.Stat(file); err == nil {
		files = append(files, file)
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:        "NEEDLE",
		SkipFlags:        true,
		AllowUnknownEnvs: true,
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads build.toml from the project root and the NEEDLE_* environment and validates the result
func Load(projectRoot string) (*Config, error) {
	cfg, loader := Loader(filepath.Join(projectRoot, FileName))
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if err := ValidateReleaseType(cfg.Release.Type); err != nil {
		return eris.Wrap(err, `Invalid value for release.type`)
	}

	if len(cfg.Files.Sources) == 0 {
		return eris.New(`files.sources must list at least one script`)
	}

	for name, value := range map[string]string{
		"files.out":  cfg.Files.Out,
		"files.dist": cfg.Files.Dist,
		"files.tmp":  cfg.Files.Tmp,
		"git.remote": cfg.Git.Remote,
		"git.branch": cfg.Git.Branch,
		"git.pages":  cfg.Git.Pages,
	} {
		if value == "" {
			return eris.Errorf(`%s must not be empty`, name)
		}
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// BannerTemplate returns the configured banner or DefaultBanner
func (cfg *Config) BannerTemplate() string {
	if cfg.Project.Banner == "" {
		return DefaultBanner
	}
	return cfg.Project.Banner
}

// ValidateReleaseType checks that kind names a semantic version increment
func ValidateReleaseType(kind string) error {
	_, err := IncrementVersion(semver.MustParse("0.0.0"), kind)
	return err
}

// IncrementVersion returns v increased by the given release type
func IncrementVersion(v *semver.Version, kind string) (*semver.Version, error) {
	var next semver.Version
	switch kind {
	case "major":
		next = v.IncMajor()
	case "minor":
		next = v.IncMinor()
	case "patch":
		next = v.IncPatch()
	default:
		return nil, eris.Errorf("unknown release type %s (must be one of major, minor or patch)", kind)
	}

	return &next, nil
}

// Logging loads the project config and returns its log settings
func Logging(projectRoot string) (zerolog.Level, bool, error) {
	cfg, err := Load(projectRoot)
	if err != nil {
		return zerolog.InfoLevel, false, err
	}

	return cfg.LogLevel(), cfg.Log.JSON, nil
}
