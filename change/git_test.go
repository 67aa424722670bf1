package change

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// setupTestRepo creates a git repository with a main branch and a feature
// branch carrying one change of each kind.
func setupTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	runGit(t, dir, "init", "-b", "main")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test User")

	writeFile(t, dir, "app.py", "line1\nline2\nline3\nline4\nline5\n")
	writeFile(t, dir, "docs.md", "# Docs\n")
	writeFile(t, dir, "keep_name.txt", "stable content\n")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "Initial commit")

	runGit(t, dir, "checkout", "-b", "feature/fraud-detection")
	writeFile(t, dir, "fraud.py", "def detect(tx):\n    return True\n")
	writeFile(t, dir, "app.py", "line1\nline2\nCHANGED\nline4\nline5\n")
	os.Remove(filepath.Join(dir, "docs.md"))
	runGit(t, dir, "mv", "keep_name.txt", "new_name.txt")
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-m", "Add fraud detection module")
	writeFile(t, dir, "fraud.py", "def detect(tx):\n    return tx.score > 0.8\n")
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-m", "Tune fraud threshold")

	runGit(t, dir, "checkout", "main")

	return dir
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestGitCLI_ChangeSet(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGitCLI("")

	cs, err := g.ChangeSet(context.Background(), repo, "main", "feature/fraud-detection")
	if err != nil {
		t.Fatalf("ChangeSet failed: %v", err)
	}

	if cs.Base != "main" || cs.Head != "feature/fraud-detection" {
		t.Errorf("refs = %q..%q", cs.Base, cs.Head)
	}

	kinds := map[string]Kind{}
	for _, f := range cs.Files {
		kinds[f.Path] = f.Kind
	}

	if kinds["fraud.py"] != KindAdded {
		t.Errorf("fraud.py kind = %q, want added", kinds["fraud.py"])
	}
	if kinds["app.py"] != KindModified {
		t.Errorf("app.py kind = %q, want modified", kinds["app.py"])
	}
	if kinds["docs.md"] != KindDeleted {
		t.Errorf("docs.md kind = %q, want deleted", kinds["docs.md"])
	}
	if kinds["new_name.txt"] != KindRenamed {
		t.Errorf("new_name.txt kind = %q, want renamed", kinds["new_name.txt"])
	}

	for _, f := range cs.Files {
		if f.Path == "new_name.txt" && f.OldPath != "keep_name.txt" {
			t.Errorf("rename old path = %q, want keep_name.txt", f.OldPath)
		}
		if f.Path == "app.py" {
			if len(f.Hunks) == 0 {
				t.Fatal("app.py should have hunks")
			}
			if f.Hunks[0].StartLine <= 0 {
				t.Errorf("hunk start = %d", f.Hunks[0].StartLine)
			}
		}
	}
}

func TestGitCLI_ChangeSet_IdenticalRefs(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGitCLI("")

	cs, err := g.ChangeSet(context.Background(), repo, "main", "main")
	if err != nil {
		t.Fatalf("ChangeSet failed: %v", err)
	}
	if len(cs.Files) != 0 {
		t.Errorf("expected empty inventory for identical refs, got %d files", len(cs.Files))
	}
}

func TestGitCLI_ChangeSet_RefNotFound(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGitCLI("")

	_, err := g.ChangeSet(context.Background(), repo, "main", "no-such-branch")
	if !errors.Is(err, ErrRefNotFound) {
		t.Errorf("expected ErrRefNotFound, got %v", err)
	}
}

func TestGitCLI_ChangeSet_RepoUnavailable(t *testing.T) {
	g := NewGitCLI("")

	_, err := g.ChangeSet(context.Background(), t.TempDir(), "main", "feature")
	if !errors.Is(err, ErrRepoUnavailable) {
		t.Errorf("expected ErrRepoUnavailable, got %v", err)
	}
}

func TestGitCLI_ChangeSet_MissingRefs(t *testing.T) {
	g := NewGitCLI("")

	if _, err := g.ChangeSet(context.Background(), t.TempDir(), "", "head"); err == nil {
		t.Error("expected error for empty base")
	}
	if _, err := g.ChangeSet(context.Background(), t.TempDir(), "base", ""); err == nil {
		t.Error("expected error for empty head")
	}
}

func TestGitCLI_BranchSummary(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGitCLI("")

	summary, err := g.BranchSummary(context.Background(), repo, "main", "feature/fraud-detection")
	if err != nil {
		t.Fatalf("BranchSummary failed: %v", err)
	}

	if summary.CommitCount != 2 {
		t.Errorf("commit count = %d, want 2", summary.CommitCount)
	}
	// git log is newest-first
	if summary.Title != "Tune fraud threshold" {
		t.Errorf("title = %q", summary.Title)
	}
}

func TestGitCLI_BranchSummary_NoCommits(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGitCLI("")

	summary, err := g.BranchSummary(context.Background(), repo, "main", "main")
	if err != nil {
		t.Fatalf("BranchSummary failed: %v", err)
	}

	if summary.CommitCount != 0 {
		t.Errorf("commit count = %d, want 0", summary.CommitCount)
	}
	if summary.Title != "(no commits)" {
		t.Errorf("title = %q", summary.Title)
	}
}

func TestGitCLI_DefaultBranch(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGitCLI("")

	branch, err := g.DefaultBranch(context.Background(), repo)
	if err != nil {
		t.Fatalf("DefaultBranch failed: %v", err)
	}
	if branch != "main" {
		t.Errorf("default branch = %q, want main", branch)
	}
}

func TestGitCLI_ResolveWorkspaceRelative(t *testing.T) {
	g := NewGitCLI("/srv/repos")

	tests := []struct {
		name    string
		repoRef string
		wantErr bool
	}{
		{"simple", "payments-service", false},
		{"nested", "team/payments-service", false},
		{"traversal", "../escape", true},
		{"empty", "", true},
		{"leading dot", ".hidden", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.resolve(tt.repoRef)
			if (err != nil) != tt.wantErr {
				t.Errorf("resolve(%q) error = %v, wantErr %v", tt.repoRef, err, tt.wantErr)
			}
		})
	}
}
