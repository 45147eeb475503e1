package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func sampleContent() Content {
	return Content{
		Title:        "Floods",
		Text:         "## Floods\nRain fell. [1]",
		Markers:      json.RawMessage(`{"[1]":"Rain"}`),
		Blocks:       json.RawMessage(`[{"type":"heading","text":"Floods"}]`),
		GraphVersion: 3,
	}
}

func TestBoardRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	first, changed, err := svc.Commit("brd-1", sampleContent(), "Avery", "Publish v1")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if !changed || first.Hash == "" || len(first.FullHash) != 40 {
		t.Fatalf("unexpected first commit: %+v changed=%v", first, changed)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "brd-1", ".git")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	updated := sampleContent()
	updated.Text = "## Floods\nRain fell. [1]\nRivers rose. [2]"
	second, changed, err := svc.Commit("brd-1", updated, "Avery", "Publish v2")
	if err != nil || !changed {
		t.Fatalf("second Commit() = %v, changed=%v", err, changed)
	}

	history, err := svc.History("brd-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Hash != second.Hash || history[1].Hash != first.Hash {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history[0].Author != "Avery" || !strings.HasPrefix(history[0].Message, "Publish v2") {
		t.Fatalf("unexpected commit metadata: %+v", history[0])
	}

	old, err := svc.GetContentByHash("brd-1", first.Hash)
	if err != nil {
		t.Fatalf("GetContentByHash() error = %v", err)
	}
	if old.Text != sampleContent().Text || string(normalizeJSON(old.Markers)) != `{"[1]":"Rain"}` {
		t.Fatalf("unexpected content: %+v", old)
	}

	head, info, err := svc.Head("brd-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head.Text != updated.Text || info.Hash != second.Hash {
		t.Fatalf("unexpected head: %+v %+v", head, info)
	}

	limited, err := svc.History("brd-1", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("History(limit=1) = %v, %v", limited, err)
	}
}

func TestCommitSkipsUnchangedContent(t *testing.T) {
	svc := New(t.TempDir())
	first, _, err := svc.Commit("brd-1", sampleContent(), "Avery", "Publish")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	same := sampleContent()
	same.GraphVersion = 9
	same.Markers = json.RawMessage(`{ "[1]" : "Rain" }`)
	again, changed, err := svc.Commit("brd-1", same, "Avery", "Publish again")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if changed || again.Hash != first.Hash {
		t.Fatalf("expected no new commit, got %+v changed=%v", again, changed)
	}
}

func TestHistoryOfUnpublishedBoardIsEmpty(t *testing.T) {
	svc := New(t.TempDir())
	history, err := svc.History("missing", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %v", history)
	}
	if _, _, err := svc.Head("missing"); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("Head() error = %v, want ErrNoHistory", err)
	}
}

func TestTagIsIdempotent(t *testing.T) {
	svc := New(t.TempDir())
	info, _, err := svc.Commit("brd-1", sampleContent(), "Avery", "Publish")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := svc.Tag("brd-1", info.Hash, "v1"); err != nil {
		t.Fatalf("Tag() error = %v", err)
	}
	if err := svc.Tag("brd-1", info.Hash, "v1"); err != nil {
		t.Fatalf("second Tag() error = %v", err)
	}
}

func TestDiffFields(t *testing.T) {
	from := sampleContent()
	to := sampleContent()
	if HasChanges(from, to) {
		t.Fatal("identical content should not differ")
	}

	to.Title = "Droughts"
	to.Blocks = json.RawMessage(`[]`)
	diff := DiffFields(from, to)
	if len(diff) != 2 || diff[0]["field"] != "blocks" || diff[1]["field"] != "title" {
		t.Fatalf("unexpected diff: %v", diff)
	}
	if diff[1]["before"] != "Floods" || diff[1]["after"] != "Droughts" {
		t.Fatalf("unexpected title diff: %v", diff[1])
	}
}

func TestConcurrentCommitsSameBoard(t *testing.T) {
	svc := New(t.TempDir())

	const writers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := sampleContent()
			next.Text = fmt.Sprintf("## Floods\nversion %02d [1]", idx)
			if _, _, err := svc.Commit("brd-1", next, "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("Commit() concurrent error = %v", err)
	}

	history, err := svc.History("brd-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers {
		t.Fatalf("expected %d commits, got %d", writers, len(history))
	}
}

func TestSanitizeEmail(t *testing.T) {
	if got := sanitizeEmail("Avery Quinn"); got != "Avery.Quinn" {
		t.Fatalf("sanitizeEmail() = %q", got)
	}
	if got := sanitizeEmail("!!"); got != "user" {
		t.Fatalf("sanitizeEmail() = %q", got)
	}
}
