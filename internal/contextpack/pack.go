// Package contextpack assembles the context text handed to a reviewer
// prompt, keyed off a session's configured scope: the working tree's
// uncommitted diff, an explicit list of file paths, or the full text of
// the current workspace.
package contextpack

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/gansauditor/internal/session"
)

// Packer builds reviewer context text by shelling out to git for diff
// scope and reading files directly from disk for the others.
type Packer struct {
	// WorkDir is the repository root paths and git commands are resolved
	// against. Defaults to the process's current directory when empty.
	WorkDir string
}

// New constructs a Packer rooted at workDir.
func New(workDir string) *Packer {
	return &Packer{WorkDir: workDir}
}

// PackContext returns the context text for scope. paths is only consulted
// for ScopePaths.
func (p *Packer) PackContext(ctx context.Context, scope session.Scope, paths []string) (string, error) {
	switch scope {
	case session.ScopePaths:
		return p.packPaths(paths)
	case session.ScopeWorkspace:
		return p.packWorkspace(ctx)
	case session.ScopeDiff, "":
		return p.packDiff(ctx)
	default:
		return "", fmt.Errorf("contextpack: unrecognized scope %q", scope)
	}
}

func (p *Packer) packDiff(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "HEAD")
	cmd.Dir = p.WorkDir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("contextpack: git diff: %w", err)
	}
	return string(output), nil
}

func (p *Packer) packPaths(paths []string) (string, error) {
	var sb strings.Builder
	for _, rel := range paths {
		full := rel
		if !filepath.IsAbs(full) {
			full = filepath.Join(p.WorkDir, rel)
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return "", fmt.Errorf("contextpack: read %s: %w", rel, err)
		}
		fmt.Fprintf(&sb, "--- %s ---\n%s\n", rel, data)
	}
	return sb.String(), nil
}

func (p *Packer) packWorkspace(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-files")
	cmd.Dir = p.WorkDir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("contextpack: git ls-files: %w", err)
	}
	files := strings.Fields(string(output))
	return p.packPaths(files)
}
