package classifier

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/adapters/vcs"
	"github.com/inplace-dev/inplace-engine/pkg/logging"
)

// minLocatableLength skips values too short to identify a unique spot.
const minLocatableLength = 3

// SourceLocation is a 1-based position in a repository file.
type SourceLocation struct {
	File   string
	Line   int
	Column int
}

// SourceLocator maps a rendered value back to the file that contains it.
// It only answers when exactly one file matches and the value occurs
// exactly once in it.
type SourceLocator struct {
	host   vcs.Host
	ref    string
	logger *zap.Logger
}

// NewSourceLocator creates a locator reading files at ref.
func NewSourceLocator(host vcs.Host, ref string, logger *zap.Logger) *SourceLocator {
	return &SourceLocator{host: host, ref: ref, logger: logger.Named("source-locator")}
}

// Locate returns nil when the value cannot be placed confidently. Errors are
// logged and reported as nil so a lookup never blocks classification.
func (l *SourceLocator) Locate(ctx context.Context, value string) *SourceLocation {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) < minLocatableLength {
		return nil
	}

	results, err := l.host.SearchCode(ctx, value)
	if err != nil {
		l.logger.Debug("Code search failed",
			zap.String("value", logging.TruncateValue(value)),
			zap.Error(err))
		return nil
	}
	if len(results) != 1 {
		return nil
	}

	file, err := l.host.GetFileContent(ctx, results[0].Path, l.ref)
	if err != nil {
		l.logger.Debug("Failed to read search hit",
			zap.String("path", results[0].Path),
			zap.Error(err))
		return nil
	}

	if strings.Count(file.Content, value) != 1 {
		return nil
	}
	line, column := position(file.Content, strings.Index(file.Content, value))
	return &SourceLocation{File: results[0].Path, Line: line, Column: column}
}

// position converts a byte offset to a 1-based line and rune column.
func position(content string, offset int) (line, column int) {
	before := content[:offset]
	line = strings.Count(before, "\n") + 1
	lineStart := strings.LastIndex(before, "\n") + 1
	column = utf8.RuneCountInString(before[lineStart:]) + 1
	return line, column
}
