package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/adapters/vcs"
	"github.com/inplace-dev/inplace-engine/pkg/apperrors"
	"github.com/inplace-dev/inplace-engine/pkg/models"
)

const titlePrefix = "[Content]"

// PublishResult identifies the branch and pull request created for a batch.
type PublishResult struct {
	BranchName string
	PRNumber   int
	PRURL      string
}

// Publisher turns a changeset into a branch, commits and a pull request.
// Nothing here is retried: a half-created pull request is worse than a
// failed publish the editor can repeat.
type Publisher interface {
	Publish(ctx context.Context, host vcs.Host, project *models.Project, changeset *Changeset, title, description string) (*PublishResult, error)
}

type publisher struct {
	branchPrefix string
	now          func() time.Time
	logger       *zap.Logger
}

// NewPublisher creates a Publisher naming branches under branchPrefix.
func NewPublisher(branchPrefix string, logger *zap.Logger) Publisher {
	if branchPrefix == "" {
		branchPrefix = "content"
	}
	return &publisher{
		branchPrefix: branchPrefix,
		now:          time.Now,
		logger:       logger.Named("publisher"),
	}
}

var _ Publisher = (*publisher)(nil)

func (p *publisher) Publish(ctx context.Context, host vcs.Host, project *models.Project, changeset *Changeset, title, description string) (*PublishResult, error) {
	if changeset == nil || len(changeset.Files) == 0 {
		return nil, apperrors.NewValidationError("edits", "no file changes to publish")
	}

	branch := BranchName(p.branchPrefix, project.ID, p.now())
	if err := host.CreateBranch(ctx, branch, project.TargetBranch); err != nil {
		return nil, apperrors.NewUpstreamError("vcs", "create branch", err)
	}

	changes := make([]vcs.FileChange, 0, len(changeset.Files))
	for _, f := range changeset.Files {
		changes = append(changes, vcs.FileChange{
			Path:    f.Path,
			Content: f.NewContent,
			SHA:     f.SHA,
			Message: "Update content in " + f.Path,
		})
	}
	if err := host.CommitFiles(ctx, branch, changes); err != nil {
		return nil, apperrors.NewUpstreamError("vcs", "commit files", err)
	}

	pr, err := host.OpenPullRequest(ctx, vcs.PullRequestParams{
		Title: title,
		Body:  description,
		Head:  branch,
		Base:  project.TargetBranch,
	})
	if err != nil {
		return nil, apperrors.NewUpstreamError("vcs", "open pull request", err)
	}

	p.logger.Info("Opened pull request",
		zap.String("project_id", project.ID.String()),
		zap.String("branch", branch),
		zap.Int("pr_number", pr.Number),
		zap.Int("files", len(changes)))

	return &PublishResult{BranchName: branch, PRNumber: pr.Number, PRURL: pr.URL}, nil
}

// BranchName returns <prefix>/<first 8 of project id>-<UTC yyyymmddhhmmss>-<ms>.
func BranchName(prefix string, projectID uuid.UUID, now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s/%s-%s-%03d",
		prefix,
		projectID.String()[:8],
		now.Format("20060102150405"),
		now.Nanosecond()/int(time.Millisecond))
}

// DefaultTitle names a pull request after the edited elements.
func DefaultTitle(elements []models.Element) string {
	switch {
	case len(elements) == 0:
		return titlePrefix + " Update content"
	case len(elements) == 1:
		return fmt.Sprintf("%s Update %s", titlePrefix, elements[0].Name)
	}

	typ := elements[0].Type
	for _, el := range elements[1:] {
		if el.Type != typ {
			return fmt.Sprintf("%s Update %d elements", titlePrefix, len(elements))
		}
	}
	return fmt.Sprintf("%s Update %d %s", titlePrefix, len(elements), inflection.Plural(string(typ)))
}

// DefaultDescription lists every edited element and summarizes the batch by type.
func DefaultDescription(elements []models.Element, changeset *Changeset) string {
	var b strings.Builder
	b.WriteString("Content updates published from the visual editor.\n\n")

	b.WriteString("## Changes\n\n")
	counts := make(map[models.ElementType]int)
	for _, el := range elements {
		fmt.Fprintf(&b, "- %s (%s)\n", el.Name, el.Type)
		counts[el.Type]++
	}

	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, string(t))
	}
	sort.Strings(types)
	parts := make([]string, 0, len(types))
	for _, t := range types {
		n := counts[models.ElementType(t)]
		noun := t
		if n != 1 {
			noun = inflection.Plural(t)
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, noun))
	}
	fmt.Fprintf(&b, "\n## Summary\n\n%s\n", strings.Join(parts, ", "))

	if changeset != nil && len(changeset.Files) > 0 {
		b.WriteString("\n## Files\n\n")
		for _, f := range changeset.Files {
			changes := "change"
			if len(f.Hunks) != 1 {
				changes = inflection.Plural(changes)
			}
			fmt.Fprintf(&b, "- `%s` (%d %s)\n", f.Path, len(f.Hunks), changes)
		}
	}
	return b.String()
}
