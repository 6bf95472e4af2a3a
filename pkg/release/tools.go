package release

import (
	"context"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"

	"github.com/jaysalvat/needle/build-tools/pkg/buildsys"
)

// runTool returns an action running the configured command. Empty commands are skipped.
func (s *Settings) runTool(name string, command func() string) buildsys.Action {
	return func(ctx context.Context) error {
		script := strings.TrimSpace(command())
		if script == "" {
			buildsys.Log(ctx).Warn().Msgf("No %s command configured, skipping", name)
			return nil
		}

		_, err := s.Exec.Exec(ctx, script)
		return err
	}
}

type uglifyVars struct {
	Input  string
	Output string
}

// uglify runs the configured minifier for every source. The results are written to dist/<name>.min.js.
func (s *Settings) uglify(ctx context.Context) error {
	tpl, err := template.New("uglify").Parse(s.Config.Tools.Uglify)
	if err != nil {
		return eris.Wrap(err, "failed to parse the minifier command")
	}

	err = s.Fs.MkdirAll(s.Config.Files.Dist, 0o755)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", s.Config.Files.Dist)
	}

	for _, source := range s.Config.Files.Sources {
		name := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
		output := filepath.ToSlash(filepath.Join(s.Config.Files.Dist, name+".min.js"))

		var script strings.Builder
		err = tpl.Execute(&script, uglifyVars{
			Input:  buildsys.Command(filepath.ToSlash(source)),
			Output: buildsys.Command(output),
		})
		if err != nil {
			return eris.Wrapf(err, "failed to render the minifier command for %s", source)
		}

		_, err = s.Exec.Exec(ctx, script.String())
		if err != nil {
			return err
		}
	}

	return nil
}
