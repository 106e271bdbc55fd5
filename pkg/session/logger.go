// SPDX-License-Identifier: Apache-2.0

// Package session holds the rewrite core's ambient, per-connection state:
// structured logging and the process-wide helper-SQL cache (§5 "Shared
// resources"). Logger mirrors the teacher's pkg/migrations/logger.go split
// between a pterm-backed implementation and a noop one for tests.
package session

import "github.com/pterm/pterm"

// Logger is responsible for logging rewrite-pipeline milestones.
type Logger interface {
	LogStatementClassified(view string, kind string)
	LogRewriteEmitted(statementCount int)
	LogCommitGenerated(changeCount int)
	LogTimelineMaintained(rootCommitID string, builtMaxDepth int)
	LogFilePrefetch(path string)

	Info(msg string, args ...any)
}

type ptermLogger struct {
	logger pterm.Logger
}

type noopLogger struct{}

func NewLogger() Logger {
	return &ptermLogger{logger: pterm.DefaultLogger}
}

func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (l *ptermLogger) LogStatementClassified(view string, kind string) {
	l.logger.Info("classified statement", l.logger.Args("view", view, "kind", kind))
}

func (l *ptermLogger) LogRewriteEmitted(statementCount int) {
	l.logger.Info("rewrite emitted", l.logger.Args("statement_count", statementCount))
}

func (l *ptermLogger) LogCommitGenerated(changeCount int) {
	l.logger.Info("commit generated", l.logger.Args("change_count", changeCount))
}

func (l *ptermLogger) LogTimelineMaintained(rootCommitID string, builtMaxDepth int) {
	l.logger.Info("timeline maintained", l.logger.Args("root_commit_id", rootCommitID, "built_max_depth", builtMaxDepth))
}

func (l *ptermLogger) LogFilePrefetch(path string) {
	l.logger.Info("file prefetch", l.logger.Args("path", path))
}

func (l *ptermLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, l.logger.Args(args))
}

func (l *noopLogger) LogStatementClassified(view string, kind string)                {}
func (l *noopLogger) LogRewriteEmitted(statementCount int)                           {}
func (l *noopLogger) LogCommitGenerated(changeCount int)                             {}
func (l *noopLogger) LogTimelineMaintained(rootCommitID string, builtMaxDepth int)    {}
func (l *noopLogger) LogFilePrefetch(path string)                                    {}
func (l *noopLogger) Info(msg string, args ...any)                                   {}
