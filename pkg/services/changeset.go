package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/inplace-dev/inplace-engine/pkg/adapters/vcs"
	"github.com/inplace-dev/inplace-engine/pkg/apperrors"
	"github.com/inplace-dev/inplace-engine/pkg/models"
)

// maxConcurrentFetches bounds parallel file reads from the repository.
const maxConcurrentFetches = 4

// diffContextLines is the unified diff context size.
const diffContextLines = 3

// ChangesetEdit is one value replacement requested for an element.
type ChangesetEdit struct {
	EditID   *uuid.UUID
	Element  *models.Element
	OldValue string
	NewValue string
}

// Hunk is a single replacement inside a file.
type Hunk struct {
	ElementID uuid.UUID `json:"elementId"`
	Line      int       `json:"line"`
	Old       string    `json:"old"`
	New       string    `json:"new"`
}

// FileChange is the aggregated result for one source file.
type FileChange struct {
	Path            string `json:"path"`
	OriginalContent string `json:"-"`
	NewContent      string `json:"-"`
	SHA             string `json:"sha"`
	Hunks           []Hunk `json:"hunks"`
	Diff            string `json:"diff"`
}

// Changeset is the set of file changes for a publish batch, in the order
// files were first referenced.
type Changeset struct {
	Files []FileChange `json:"files"`
}

// ChangesetGenerator maps edits onto repository files.
type ChangesetGenerator interface {
	// Build returns a *apperrors.ChangesetError listing every edit that could
	// not be placed; nothing is returned for a partially mappable batch.
	Build(ctx context.Context, host vcs.Host, ref string, edits []ChangesetEdit) (*Changeset, error)
}

type changesetGenerator struct {
	logger *zap.Logger
}

// NewChangesetGenerator creates a ChangesetGenerator.
func NewChangesetGenerator(logger *zap.Logger) ChangesetGenerator {
	return &changesetGenerator{logger: logger.Named("changeset")}
}

var _ ChangesetGenerator = (*changesetGenerator)(nil)

func (g *changesetGenerator) Build(ctx context.Context, host vcs.Host, ref string, edits []ChangesetEdit) (*Changeset, error) {
	var failures []error
	var order []string
	seen := make(map[string]struct{})

	for _, e := range edits {
		if !e.Element.HasSource() {
			continue
		}
		if _, ok := seen[*e.Element.SourceFile]; !ok {
			seen[*e.Element.SourceFile] = struct{}{}
			order = append(order, *e.Element.SourceFile)
		}
	}

	files, err := g.fetchFiles(ctx, host, ref, order)
	if err != nil {
		return nil, err
	}

	working := make(map[string]string, len(files))
	for path, f := range files {
		working[path] = f.Content
	}
	hunks := make(map[string][]Hunk, len(files))

	for _, e := range edits {
		el := e.Element
		if !el.HasSource() {
			failures = append(failures, &apperrors.SourceUnresolvedError{ElementID: el.ID})
			continue
		}
		path := *el.SourceFile
		content, ok := working[path]
		if !ok {
			// The file is gone from the target branch.
			failures = append(failures, &apperrors.SourceUnresolvedError{ElementID: el.ID})
			continue
		}

		count := 0
		if e.OldValue != "" {
			count = strings.Count(content, e.OldValue)
		}
		if count != 1 {
			failures = append(failures, &apperrors.AmbiguousMatchError{ElementID: el.ID, SourceFile: path, MatchCount: count})
			continue
		}

		idx := strings.Index(content, e.OldValue)
		hunks[path] = append(hunks[path], Hunk{
			ElementID: el.ID,
			Line:      strings.Count(content[:idx], "\n") + 1,
			Old:       e.OldValue,
			New:       e.NewValue,
		})
		working[path] = content[:idx] + e.NewValue + content[idx+len(e.OldValue):]
	}

	if len(failures) > 0 {
		g.logger.Info("Changeset rejected",
			zap.Int("edits", len(edits)),
			zap.Int("failures", len(failures)))
		return nil, &apperrors.ChangesetError{Failures: failures}
	}

	changeset := &Changeset{Files: make([]FileChange, 0, len(hunks))}
	for _, path := range order {
		if len(hunks[path]) == 0 {
			continue
		}
		original := files[path]
		diff, err := unifiedDiff(path, original.Content, working[path])
		if err != nil {
			return nil, fmt.Errorf("diff %s: %w", path, err)
		}
		changeset.Files = append(changeset.Files, FileChange{
			Path:            path,
			OriginalContent: original.Content,
			NewContent:      working[path],
			SHA:             original.SHA,
			Hunks:           hunks[path],
			Diff:            diff,
		})
	}
	return changeset, nil
}

// fetchFiles reads the distinct files concurrently. Missing files are left
// out of the result; any other failure aborts.
func (g *changesetGenerator) fetchFiles(ctx context.Context, host vcs.Host, ref string, paths []string) (map[string]*vcs.FileContent, error) {
	results := make([]*vcs.FileContent, len(paths))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentFetches)
	for i, path := range paths {
		eg.Go(func() error {
			f, err := host.GetFileContent(egCtx, path, ref)
			if err != nil {
				if errors.Is(err, vcs.ErrNotFound) {
					g.logger.Debug("Source file missing on target branch", zap.String("path", path))
					return nil
				}
				return apperrors.NewUpstreamError("vcs", "get file "+path, err)
			}
			results[i] = f
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	files := make(map[string]*vcs.FileContent, len(paths))
	for i, f := range results {
		if f != nil {
			files[paths[i]] = f
		}
	}
	return files, nil
}

func unifiedDiff(path, before, after string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  diffContextLines,
	})
}
