package release

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/jaysalvat/needle/build-tools/pkg/buildsys"
	"github.com/jaysalvat/needle/build-tools/pkg/config"
)

type fakeExec struct {
	lock    sync.Mutex
	scripts []string
	outputs map[string]string
	fail    func(script string) error
}

func (f *fakeExec) Exec(ctx context.Context, script string) (buildsys.CommandResult, error) {
	f.lock.Lock()
	f.scripts = append(f.scripts, script)
	output := f.outputs[script]
	fail := f.fail
	f.lock.Unlock()

	if fail != nil {
		if err := fail(script); err != nil {
			return buildsys.CommandResult{ExitCode: 1, Output: output}, err
		}
	}
	return buildsys.CommandResult{Output: output}, nil
}

func (f *fakeExec) executed() []string {
	f.lock.Lock()
	defer f.lock.Unlock()

	return append([]string{}, f.scripts...)
}

const packageJSON = `{
  "name": "needle",
  "version": "1.4.2",
  "main": "dist/needle.js"
}
`

func newTestSettings(t *testing.T) (*Settings, *fakeExec) {
	t.Helper()

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	files := map[string]string{
		"package.json":       packageJSON,
		"bower.json":         `{"name": "needle", "version": "1.4.2"}`,
		"LICENSE":            "Copyright (c) 2014 Jay Salvat\n",
		"src/needle.js":      "var needle = {};\n",
		"src/needle.lite.js": "var needleLite = {};\n",
	}
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}

	exec := &fakeExec{outputs: map[string]string{
		"git symbolic-ref -q HEAD": "refs/heads/master\n",
	}}

	return &Settings{
		Config: cfg,
		Fs:     fs,
		Exec:   exec,
		Type:   "patch",
		Now: func() time.Time {
			return time.Date(2026, time.October, 19, 12, 30, 0, 0, time.UTC)
		},
	}, exec
}

func runTask(t *testing.T, settings *Settings, name string) error {
	t.Helper()

	tasks := buildsys.TaskList{}
	Register(tasks, settings)
	return buildsys.RunTask(context.Background(), t.TempDir(), name, tasks, false, false)
}

func readFile(t *testing.T, fs afero.Fs, name string) string {
	t.Helper()

	data, err := afero.ReadFile(fs, name)
	require.NoError(t, err)
	return string(data)
}

func requireOrder(t *testing.T, scripts []string, expected ...string) {
	t.Helper()

	last := -1
	for _, item := range expected {
		pos := -1
		for idx, script := range scripts {
			if script == item {
				pos = idx
				break
			}
		}

		require.NotEqual(t, -1, pos, "%s was not executed: %v", item, scripts)
		require.Greater(t, pos, last, "%s ran out of order: %v", item, scripts)
		last = pos
	}
}

func TestBumpPatch(t *testing.T) {
	settings, _ := newTestSettings(t)
	require.NoError(t, runTask(t, settings, "bump"))

	require.Equal(t, strings.Replace(packageJSON, "1.4.2", "1.4.3", 1), readFile(t, settings.Fs, "package.json"))
	require.Equal(t, `{"name": "needle", "version": "1.4.3"}`, readFile(t, settings.Fs, "bower.json"))
}

func TestBumpMinorSkipsMissingManifests(t *testing.T) {
	settings, _ := newTestSettings(t)
	settings.Type = "minor"
	require.NoError(t, settings.Fs.Remove("bower.json"))

	require.NoError(t, runTask(t, settings, "bump"))

	version, err := settings.Version()
	require.NoError(t, err)
	require.Equal(t, "1.5.0", version.String())
}

func TestLicenseUpdatesYear(t *testing.T) {
	settings, _ := newTestSettings(t)
	require.NoError(t, runTask(t, settings, "license"))

	require.Equal(t, "Copyright (c) 2026 Jay Salvat\n", readFile(t, settings.Fs, "LICENSE"))
}

func TestMetaWritesBothFormats(t *testing.T) {
	settings, _ := newTestSettings(t)
	require.NoError(t, runTask(t, settings, "meta"))

	expected := "{\n    \"date\": \"2026-10-19 12:30\",\n    \"version\": \"v1.4.2\"\n}"
	require.Equal(t, expected, readFile(t, settings.Fs, "tmp/metadata.json"))
	require.Equal(t, "__metadata("+expected+");", readFile(t, settings.Fs, "tmp/metadata.js"))
}

func TestHeaderPrependsBanner(t *testing.T) {
	settings, _ := newTestSettings(t)
	require.NoError(t, runTask(t, settings, "copy"))
	require.NoError(t, runTask(t, settings, "header"))

	banner := "/*! Needle - Copyright (c) 2026 Jay Salvat\n" +
		" *  v1.4.2 released 2026-10-19 12:30\n" +
		" *  http://needle.jaysalvat.com\n" +
		" */\n"
	require.Equal(t, banner+"var needle = {};\n", readFile(t, settings.Fs, "dist/needle.js"))
	require.Equal(t, banner+"var needleLite = {};\n", readFile(t, settings.Fs, "dist/needle.lite.js"))
}

func TestBuildRunsToolsInOrder(t *testing.T) {
	settings, exec := newTestSettings(t)
	require.NoError(t, runTask(t, settings, "build"))

	requireOrder(t, exec.executed(),
		"jshint src",
		"qunit tests/test-runner.html",
		"uglifyjs src/needle.js --compress --mangle --source-map --output dist/needle.min.js",
		"uglifyjs src/needle.lite.js --compress --mangle --source-map --output dist/needle.lite.min.js",
		"qunit tests/test-runner.html?dist",
	)

	for _, name := range []string{"dist/needle.js", "dist/needle.js.br", "dist/needle.lite.js.br"} {
		exists, err := afero.Exists(settings.Fs, name)
		require.NoError(t, err)
		require.True(t, exists, name)
	}
}

func TestArchivesAreWrittenToTmp(t *testing.T) {
	settings, _ := newTestSettings(t)
	require.NoError(t, runTask(t, settings, "copy"))
	require.NoError(t, runTask(t, settings, "zip"))
	require.NoError(t, runTask(t, settings, "tarball"))

	for _, name := range []string{"tmp/needle.zip", "tmp/needle.tar.xz"} {
		info, err := settings.Fs.Stat(name)
		require.NoError(t, err)
		require.NotZero(t, info.Size())
	}
}

func TestDirtyRepositoryStopsPublish(t *testing.T) {
	settings, exec := newTestSettings(t)
	exec.outputs["git diff-index HEAD --"] = "M\tsrc/needle.js\n"

	err := runTask(t, settings, "publish")
	require.Error(t, err)
	require.True(t, buildsys.IsPrecondition(err))
	require.Contains(t, err.Error(), "Repository is dirty")

	exists, err := afero.DirExists(settings.Fs, "tmp")
	require.NoError(t, err)
	require.False(t, exists)
	require.NotContains(t, exec.executed(), "git checkout gh-pages")
}

func TestWrongBranchStopsRelease(t *testing.T) {
	settings, exec := newTestSettings(t)
	exec.outputs["git symbolic-ref -q HEAD"] = "refs/heads/develop\n"

	err := runTask(t, settings, "release")
	require.Error(t, err)
	require.True(t, buildsys.IsPrecondition(err))
	require.Contains(t, err.Error(), "Branch is not master")
	require.NotContains(t, exec.executed(), "git pull origin master")
	require.Equal(t, packageJSON, readFile(t, settings.Fs, "package.json"))
}

func TestDetachedHeadIsPrecondition(t *testing.T) {
	settings, exec := newTestSettings(t)
	exec.fail = func(script string) error {
		if script == "git symbolic-ref -q HEAD" {
			return &buildsys.CommandError{Script: script, ExitCode: 1}
		}
		return nil
	}

	err := runTask(t, settings, "fail-if-not-master")
	require.Error(t, err)
	require.True(t, buildsys.IsPrecondition(err))
}

func TestReleaseRunsFullSequence(t *testing.T) {
	settings, exec := newTestSettings(t)
	require.NoError(t, runTask(t, settings, "release"))

	scripts := exec.executed()
	requireOrder(t, scripts,
		"git pull origin master",
		"jshint src",
		"qunit tests/test-runner.html",
		"uglifyjs src/needle.js --compress --mangle --source-map --output dist/needle.min.js",
		"git add -A",
		"git commit -m 'Build v1.4.3'",
		"git tag v1.4.3",
		"git push origin master --tags",
		"git checkout gh-pages",
		"git checkout -",
	)

	// every task runs once even though publish repeats the guards
	count := 0
	for _, script := range scripts {
		if script == "git diff-index HEAD --" {
			count++
		}
	}
	require.Equal(t, 1, count)

	published := ""
	for _, script := range scripts {
		if strings.Contains(script, "releases/latest") {
			published = script
		}
	}
	require.Contains(t, published, "cp -r tmp/* releases/1.4.3")
	require.Contains(t, published, "git commit -m 'Publish release v1.4.3.'")
	require.Contains(t, published, "git push origin gh-pages")

	exists, err := afero.DirExists(settings.Fs, "tmp")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestGhPagesReturnsToPreviousBranchOnFailure(t *testing.T) {
	settings, exec := newTestSettings(t)
	exec.fail = func(script string) error {
		if strings.Contains(script, "git push origin gh-pages") {
			return &buildsys.CommandError{Script: script, ExitCode: 128}
		}
		return nil
	}

	err := runTask(t, settings, "gh-pages")
	require.Error(t, err)

	scripts := exec.executed()
	require.Equal(t, "git checkout -", scripts[len(scripts)-1])
}

func TestEmptyToolCommandIsSkipped(t *testing.T) {
	settings, exec := newTestSettings(t)
	settings.Config.Tools.Lint = ""

	require.NoError(t, runTask(t, settings, "lint"))
	require.Empty(t, exec.executed())
}

func TestNewSettingsValidatesType(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	settings, err := NewSettings(cfg, t.TempDir(), map[string]string{"type": "major"})
	require.NoError(t, err)
	require.Equal(t, "major", settings.Type)

	settings, err = NewSettings(cfg, t.TempDir(), nil)
	require.NoError(t, err)
	require.Equal(t, "patch", settings.Type)

	_, err = NewSettings(cfg, t.TempDir(), map[string]string{"type": "huge"})
	require.Error(t, err)
}

func TestConcurrentArchivesShareOneProgressBar(t *testing.T) {
	t.Setenv("CI", "true")
	settings, _ := newTestSettings(t)
	settings.Progress = true

	first := settings.progressBar(100)
	second := settings.progressBar(50)
	require.Same(t, first, second)
	require.Equal(t, int64(150), second.GetMax64())

	require.NoError(t, runTask(t, settings, "copy"))

	tasks := buildsys.TaskList{}
	Register(tasks, settings)
	tasks.Register("archives", []buildsys.Group{buildsys.Par("zip", "tarball")}, nil)
	require.NoError(t, buildsys.RunTask(context.Background(), t.TempDir(), "archives", tasks, false, false))

	for _, name := range []string{"tmp/needle.zip", "tmp/needle.tar.xz"} {
		exists, err := afero.Exists(settings.Fs, name)
		require.NoError(t, err)
		require.True(t, exists, name)
	}
}
