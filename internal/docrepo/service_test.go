package docrepo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDocumentRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{
		Title: "Onboarding checklist",
		Kind:  "note",
		Body: json.RawMessage(`{
			"blocks":[
				{"type":"heading","level":1,"text":"Onboarding checklist"},
				{"type":"paragraph","text":"Steps for new clients."}
			]
		}`),
	}

	if err := svc.EnsureDocumentRepo("wik_1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "wik_1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Idempotent
	if err := svc.EnsureDocumentRepo("wik_1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() second call error = %v", err)
	}

	updated := initial
	updated.Body = json.RawMessage(`{"blocks":[{"type":"paragraph","text":"Revised."}]}`)
	revision, err := svc.CommitContent("wik_1", updated, "Avery", "Revise checklist")
	if err != nil {
		t.Fatalf("CommitContent() error = %v", err)
	}
	if revision.Hash == "" {
		t.Fatal("expected revision hash")
	}

	history, err := svc.History("wik_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(history))
	}

	atRevision, err := svc.GetContentByHash("wik_1", revision.Hash)
	if err != nil {
		t.Fatalf("GetContentByHash() error = %v", err)
	}
	if !strings.Contains(string(atRevision.Body), "Revised.") {
		t.Fatalf("unexpected content at revision: %s", atRevision.Body)
	}
}

func TestBodyRoundTripPreservesStructure(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{
		Title: "Pricing table",
		Kind:  "table",
		Body: json.RawMessage(`{
			"columns":[{"id":"c1","name":"Plan"},{"id":"c2","name":"Price"}],
			"rows":[
				{"c1":"Basic","c2":"49"},
				{"c1":"Pro","c2":"99"}
			]
		}`),
	}

	if err := svc.EnsureDocumentRepo("wik_1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}

	updated := initial
	updated.Title = "Pricing table (2026)"
	if _, err := svc.CommitContent("wik_1", updated, "Avery", "Rename"); err != nil {
		t.Fatalf("CommitContent() error = %v", err)
	}

	got, head, err := svc.GetHeadContent("wik_1")
	if err != nil {
		t.Fatalf("GetHeadContent() error = %v", err)
	}
	if head.Author != "Avery" {
		t.Fatalf("unexpected head author: %+v", head)
	}

	wantNorm := normalizeBody(updated.Body)
	gotNorm := normalizeBody(got.Body)
	if string(wantNorm) != string(gotNorm) {
		t.Fatalf("body JSON mismatch after round-trip\nwant=%s\ngot=%s", string(wantNorm), string(gotNorm))
	}
}

func TestHasChanges(t *testing.T) {
	base := Content{Title: "Doc", Kind: "note", Body: json.RawMessage(`{"blocks":[]}`)}

	same := Content{Title: "Doc", Kind: "note", Body: json.RawMessage(`{ "blocks": [] }`)}
	if HasChanges(base, same) {
		t.Error("formatting-only body difference should not count as a change")
	}

	renamed := base
	renamed.Title = "Doc v2"
	if !HasChanges(base, renamed) {
		t.Error("title change should count as a change")
	}

	edited := base
	edited.Body = json.RawMessage(`{"blocks":[{"type":"paragraph","text":"x"}]}`)
	if !HasChanges(base, edited) {
		t.Error("body change should count as a change")
	}
}

func TestConcurrentCommits(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{Title: "Doc", Kind: "note"}

	if err := svc.EnsureDocumentRepo("wik_1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := initial
			next.Body = json.RawMessage(fmt.Sprintf(`{"blocks":[{"type":"paragraph","text":"edit-%02d"}]}`, idx))
			if _, err := svc.CommitContent("wik_1", next, "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitContent() concurrent error = %v", err)
		}
	}

	history, err := svc.History("wik_1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d commits in history, got %d", writers+1, len(history))
	}

	head, _, err := svc.GetHeadContent("wik_1")
	if err != nil {
		t.Fatalf("GetHeadContent() error = %v", err)
	}
	if !strings.Contains(string(head.Body), "edit-") {
		t.Fatalf("unexpected head content after concurrent commits: %s", head.Body)
	}
}
