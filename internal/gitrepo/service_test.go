package gitrepo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	git "github.com/go-git/go-git/v5"
)

func TestCaseRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureCaseRepo("case-1", "Jordan"); err != nil {
		t.Fatalf("EnsureCaseRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "case-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Ensure is idempotent.
	if err := svc.EnsureCaseRepo("case-1", "Jordan"); err != nil {
		t.Fatalf("second EnsureCaseRepo() error = %v", err)
	}

	compiled := []byte(`{"ticker":"ACME","conviction":70}`)
	narrative := "# ACME\n\nLong ACME on datacenter demand.\n"
	commit, err := svc.CommitSnapshot("case-1", compiled, narrative, "Jordan", "Compile asof 2026-03-01")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	history, err := svc.History("case-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected baseline plus one snapshot, got %d commits", len(history))
	}
	if history[0].Message != "Compile asof 2026-03-01" {
		t.Fatalf("unexpected head commit: %+v", history[0])
	}

	data, err := svc.SnapshotByHash("case-1", commit.Hash)
	if err != nil {
		t.Fatalf("SnapshotByHash() error = %v", err)
	}
	if !strings.Contains(string(data), `"conviction":70`) {
		t.Fatalf("unexpected snapshot data: %s", data)
	}
}

func TestCommitSnapshotRecordsNarrative(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureCaseRepo("case-1", "Jordan"); err != nil {
		t.Fatalf("EnsureCaseRepo() error = %v", err)
	}

	narrative := "# ACME\n\nLong ACME, conviction 70.\n"
	commit, err := svc.CommitSnapshot("case-1", []byte(`{"ticker":"ACME"}`), narrative, "Jordan", "Compile with narrative")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	repo, err := git.PlainOpen(svc.repoPath("case-1"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	hash, err := resolveHash(repo, commit.Hash)
	if err != nil {
		t.Fatalf("resolve commit hash: %v", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		t.Fatalf("read commit: %v", err)
	}
	file, err := commitObj.File(narrativeFile)
	if err != nil {
		t.Fatalf("narrative missing from commit: %v", err)
	}
	contents, err := file.Contents()
	if err != nil {
		t.Fatalf("read narrative: %v", err)
	}
	if contents != narrative {
		t.Fatalf("unexpected narrative in commit: %q", contents)
	}
}

func TestIdenticalRecompileStillCommits(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureCaseRepo("case-1", "Jordan"); err != nil {
		t.Fatalf("EnsureCaseRepo() error = %v", err)
	}

	compiled := []byte(`{"ticker":"ACME"}`)
	if _, err := svc.CommitSnapshot("case-1", compiled, "same narrative", "Jordan", "Compile one"); err != nil {
		t.Fatalf("first CommitSnapshot() error = %v", err)
	}
	if _, err := svc.CommitSnapshot("case-1", compiled, "same narrative", "Jordan", "Compile two"); err != nil {
		t.Fatalf("second CommitSnapshot() error = %v", err)
	}

	history, err := svc.History("case-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(history))
	}
}

func TestConcurrentCommitSnapshots(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureCaseRepo("case-1", "Jordan"); err != nil {
		t.Fatalf("EnsureCaseRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			compiled := []byte(fmt.Sprintf(`{"ticker":"ACME","conviction":%d}`, idx))
			if _, err := svc.CommitSnapshot("case-1", compiled, "narrative", "Jordan", fmt.Sprintf("Compile %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitSnapshot() concurrent error = %v", err)
		}
	}

	history, err := svc.History("case-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d commits in history, got %d", writers+1, len(history))
	}
}
