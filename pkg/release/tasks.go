package release

import (
	"context"

	"github.com/jaysalvat/needle/build-tools/pkg/buildsys"
	"github.com/jaysalvat/needle/build-tools/pkg/config"
)

type taskDef struct {
	name   string
	desc   string
	deps   []buildsys.Group
	action buildsys.Action
}

func (s *Settings) taskDefs() []taskDef {
	cfg := s.Config
	guards := buildsys.Par("fail-if-not-master", "fail-if-dirty")
	seq := buildsys.Seq

	return []taskDef{
		{name: "clean", desc: "Remove the dist folder", action: s.clean},
		{name: "tmp-create", desc: "Create the tmp folder", action: s.tmpCreate},
		{name: "tmp-clean", desc: "Remove the tmp folder", action: s.tmpClean},
		{name: "tmp-copy", desc: "Copy the built files to the tmp folder", deps: seq("tmp-create"), action: s.tmpCopy},
		{name: "zip", desc: "Pack the built files into a zip archive", deps: seq("tmp-create"), action: s.archive(".zip")},
		{name: "tarball", desc: "Pack the built files into a tar.xz archive", deps: seq("tmp-create"), action: s.archive(".tar.xz")},
		{name: "fail-if-dirty", desc: "Fail if the working tree has uncommitted changes", action: s.failIfDirty},
		{name: "fail-if-not-master", desc: "Fail unless the release branch is checked out", action: s.failIfNotBranch},
		{name: "git-pull", desc: "Pull the release branch", action: s.git("pull", cfg.Git.Remote, cfg.Git.Branch)},
		{name: "git-add", desc: "Stage all changes", action: s.git("add", "-A")},
		{name: "git-commit", desc: "Commit the build", deps: seq("git-add"), action: s.gitVersioned("Build v%s", "commit", "-m")},
		{name: "git-tag", desc: "Tag the current version", action: s.gitVersioned("v%s", "tag")},
		{name: "git-push", desc: "Push the release branch and tags", deps: seq("git-commit"), action: s.git("push", cfg.Git.Remote, cfg.Git.Branch, "--tags")},
		{name: "meta", desc: "Write the release metadata", deps: seq("tmp-create"), action: s.meta},
		{name: "bump", desc: "Increment the package version", action: s.bump},
		{name: "license", desc: "Update the copyright year", action: s.license},
		{name: "lint", desc: "Lint the sources", action: s.runTool("lint", func() string { return cfg.Tools.Lint })},
		{name: "test-dev", desc: "Test the sources", action: s.runTool("test-dev", func() string { return cfg.Tools.TestDev })},
		{name: "test-dist", desc: "Test the built files", action: s.runTool("test-dist", func() string { return cfg.Tools.TestDist })},
		{name: "copy", desc: "Copy the sources to the dist folder", action: s.copySources},
		{name: "uglify", desc: "Minify the sources", action: s.uglify},
		{name: "header", desc: "Prepend the banner to the built files", action: s.header},
		{name: "compress", desc: "Write brotli compressed copies of the built files", action: s.compress},
		{name: "gh-pages", desc: "Publish the release archives on the pages branch", action: s.ghPages},
		{
			name: "test",
			desc: "Lint and test the sources",
			deps: seq("lint", "test-dev"),
		},
		{
			name: "build",
			desc: "Build the library",
			deps: append(
				seq("lint", "test-dev", "clean", "copy", "uglify", "header"),
				buildsys.Par("compress", "test-dist"),
			),
		},
		{
			name: "publish",
			desc: "Publish the built files",
			deps: append(
				append([]buildsys.Group{guards}, seq("tmp-create", "tmp-copy", "meta")...),
				append([]buildsys.Group{buildsys.Par("zip", "tarball")}, seq("gh-pages", "tmp-clean")...)...,
			),
		},
		{
			name: "release",
			desc: "Build, tag, push and publish a new version",
			deps: append([]buildsys.Group{guards}, seq(
				"git-pull", "lint", "test-dev", "bump", "license", "clean", "copy", "uglify", "header", "compress",
				"git-add", "git-commit", "git-tag", "git-push", "publish",
			)...),
		},
	}
}

// Register adds all release tasks to tasks
func Register(tasks buildsys.TaskList, settings *Settings) {
	for _, def := range settings.taskDefs() {
		task := tasks.Register(def.name, def.deps, def.action)
		task.Desc = def.desc
	}
}

// Setup loads the config of the project in projectRoot and registers the release tasks. It matches
// the signature expected by the task command.
func Setup(ctx context.Context, projectRoot string, options map[string]string, tasks buildsys.TaskList) error {
	cfg, err := config.Load(projectRoot)
	if err != nil {
		return err
	}

	settings, err := NewSettings(cfg, projectRoot, options)
	if err != nil {
		return err
	}

	buildsys.Log(ctx).Debug().Str("type", settings.Type).Msg("Registered release tasks")
	Register(tasks, settings)
	return nil
}
