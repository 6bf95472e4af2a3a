package release

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/jaysalvat/needle/build-tools/pkg/buildsys"
)

// failIfDirty refuses to continue if the working tree has uncommitted changes
func (s *Settings) failIfDirty(ctx context.Context) error {
	result, err := s.exec(ctx, "git", "diff-index", "HEAD", "--")
	if err != nil {
		return err
	}

	if strings.TrimSpace(result.Output) != "" {
		return buildsys.Precondition("Repository is dirty")
	}
	return nil
}

// failIfNotBranch refuses to continue unless the release branch is checked out
func (s *Settings) failIfNotBranch(ctx context.Context) error {
	branch := s.Config.Git.Branch
	result, err := s.exec(ctx, "git", "symbolic-ref", "-q", "HEAD")
	if err != nil {
		var cmdErr *buildsys.CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
			return buildsys.Precondition("HEAD is detached, expected branch %s", branch)
		}
		return err
	}

	if strings.TrimSpace(result.Output) != "refs/heads/"+branch {
		return buildsys.Precondition("Branch is not %s", branch)
	}
	return nil
}

func (s *Settings) git(args ...string) buildsys.Action {
	return func(ctx context.Context) error {
		_, err := s.exec(ctx, append([]string{"git"}, args...)...)
		return err
	}
}

// gitVersioned runs a git command whose last argument is built from the current version
func (s *Settings) gitVersioned(format string, args ...string) buildsys.Action {
	return func(ctx context.Context) error {
		version, err := s.Version()
		if err != nil {
			return err
		}

		cmd := append([]string{"git"}, args...)
		cmd = append(cmd, fmt.Sprintf(format, version))
		_, err = s.exec(ctx, cmd...)
		return err
	}
}

// ghPages publishes the content of the tmp folder to releases/<version> and releases/latest on the
// pages branch
func (s *Settings) ghPages(ctx context.Context) error {
	version, err := s.Version()
	if err != nil {
		return err
	}

	git := s.Config.Git
	tmp := buildsys.Command(s.Config.Files.Tmp)

	_, err = s.exec(ctx, "git", "checkout", git.Pages)
	if err != nil {
		return err
	}

	lines := []string{}
	for _, dest := range []string{path.Join("releases", version.String()), path.Join("releases", "latest")} {
		lines = append(lines,
			buildsys.Command("rm", "-rf", dest),
			buildsys.Command("mkdir", "-p", dest),
			fmt.Sprintf("cp -r %s/* %s", tmp, buildsys.Command(dest)),
			buildsys.Command("git", "add", "-A", dest),
		)
	}
	lines = append(lines,
		buildsys.Command("git", "commit", "-m", fmt.Sprintf("Publish release v%s.", version)),
		buildsys.Command("git", "push", git.Remote, git.Pages),
	)

	_, err = s.Exec.Exec(ctx, strings.Join(lines, "\n"))

	// always return to the previous branch
	_, checkoutErr := s.exec(ctx, "git", "checkout", "-")
	if err != nil {
		if checkoutErr != nil {
			buildsys.Log(ctx).Error().Err(checkoutErr).Msg("Failed to switch back from the pages branch")
		}
		return err
	}
	return checkoutErr
}
