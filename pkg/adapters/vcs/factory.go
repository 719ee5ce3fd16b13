package vcs

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/config"
	"github.com/inplace-dev/inplace-engine/pkg/models"
)

// Factory creates a Host bound to a project's repository.
type Factory interface {
	ForProject(project *models.Project) (Host, error)
}

type factory struct {
	cfg    config.VCSConfig
	logger *zap.Logger
}

// NewFactory creates a Factory from the VCS configuration.
func NewFactory(cfg config.VCSConfig, logger *zap.Logger) Factory {
	return &factory{cfg: cfg, logger: logger}
}

func (f *factory) ForProject(project *models.Project) (Host, error) {
	provider := project.RepositoryProvider
	if provider == "" {
		provider = models.RepositoryProviderGitHub
	}
	if provider != models.RepositoryProviderGitHub {
		return nil, fmt.Errorf("unsupported repository provider: %s", provider)
	}

	owner, repo, err := ParseRepositoryRef(project.RepositoryRef)
	if err != nil {
		return nil, err
	}

	return NewGitHubHost(GitHubConfig{
		APIBaseURL: config.ResolveURLForDocker(f.cfg.APIBaseURL),
		Token:      f.cfg.Token,
		Timeout:    f.cfg.Timeout,
		Owner:      owner,
		Repo:       repo,
	}, f.logger), nil
}

// ParseRepositoryRef splits "owner/name" into its parts.
func ParseRepositoryRef(ref string) (owner, repo string, err error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(ref), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository reference %q, expected owner/name", ref)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
