package search

import "testing"

func TestSanitizeResultsHidesForeignPrivateWiki(t *testing.T) {
	results := []Result{
		{Type: ResultCase, ID: "cas_1"},
		{Type: ResultWiki, ID: "wik_mine", Visibility: "private", OwnerID: "usr_alice"},
		{Type: ResultWiki, ID: "wik_theirs", Visibility: "private", OwnerID: "usr_bob"},
		{Type: ResultWiki, ID: "wik_shared", Visibility: "workspace", OwnerID: "usr_bob"},
	}

	got := sanitizeResults(results, "usr_alice")

	ids := make(map[string]bool)
	for _, r := range got {
		ids[r.ID] = true
	}
	if !ids["cas_1"] || !ids["wik_mine"] || !ids["wik_shared"] {
		t.Errorf("expected case, own private doc, and workspace doc to survive, got %v", ids)
	}
	if ids["wik_theirs"] {
		t.Error("foreign private wiki document must be filtered out")
	}
	if len(got) != 3 {
		t.Errorf("expected 3 results, got %d", len(got))
	}
}
