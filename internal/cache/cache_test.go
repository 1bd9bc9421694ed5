package cache

import (
	"testing"

	"github.com/Iron-Ham/gansauditor/internal/reviewer"
)

func sampleReview(overall int) reviewer.Review {
	return reviewer.Review{
		Overall: overall,
		Verdict: reviewer.VerdictPass,
		Review:  reviewer.ReviewBody{Summary: "looks fine"},
	}
}

func TestAuditCache_PutGet(t *testing.T) {
	ac, err := New(10, 1<<20, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	thought := "```go\nfunc f() {}\n```"
	ac.Put(thought, 1, sampleReview(80))

	review, ok := ac.Get(thought, 1)
	if !ok {
		t.Fatal("Get() miss after Put")
	}
	if review.Overall != 80 {
		t.Errorf("Get() overall = %d, want 80", review.Overall)
	}
}

func TestAuditCache_MissOnDifferentThoughtNumber(t *testing.T) {
	ac, err := New(10, 1<<20, 0)
	if err != nil {
		t.Fatal(err)
	}

	thought := "```go\nfunc f() {}\n```"
	ac.Put(thought, 1, sampleReview(80))

	if _, ok := ac.Get(thought, 2); ok {
		t.Error("Get() hit for a different thoughtNumber")
	}
}

func TestAuditCache_Stats(t *testing.T) {
	ac, err := New(10, 1<<20, 0)
	if err != nil {
		t.Fatal(err)
	}

	thought := "```go\nfunc f() {}\n```"
	ac.Put(thought, 1, sampleReview(80))

	ac.Get(thought, 1)
	ac.Get(thought, 99)

	stats := ac.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("Stats() = %+v, want 1 hit and 1 miss", stats)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("HitRate = %v, want 0.5", stats.HitRate)
	}
	if stats.Entries != 1 {
		t.Errorf("Entries = %d, want 1", stats.Entries)
	}
	if stats.MemoryBytes <= 0 {
		t.Errorf("MemoryBytes = %d, want > 0", stats.MemoryBytes)
	}
}

func TestAuditCache_EvictsOnMaxEntries(t *testing.T) {
	ac, err := New(2, 1<<20, 0)
	if err != nil {
		t.Fatal(err)
	}

	ac.Put("```go\nfunc a() {}\n```", 1, sampleReview(1))
	ac.Put("```go\nfunc b() {}\n```", 1, sampleReview(2))
	ac.Put("```go\nfunc c() {}\n```", 1, sampleReview(3))

	if got := ac.Stats().Entries; got != 2 {
		t.Errorf("Entries = %d, want 2 after exceeding maxEntries", got)
	}

	if _, ok := ac.Get("```go\nfunc a() {}\n```", 1); ok {
		t.Error("expected oldest entry to have been evicted")
	}
}

func TestAuditCache_EvictsOnMaxMemoryBytes(t *testing.T) {
	ac, err := New(100, 1, 0)
	if err != nil {
		t.Fatal(err)
	}

	ac.Put("```go\nfunc a() {}\n```", 1, sampleReview(1))
	ac.Put("```go\nfunc b() {}\n```", 1, sampleReview(2))

	stats := ac.Stats()
	if stats.MemoryBytes > 1 {
		t.Errorf("MemoryBytes = %d, want <= 1 after eviction", stats.MemoryBytes)
	}
	if stats.Entries > 1 {
		t.Errorf("Entries = %d, want <= 1 given a 1-byte memory bound", stats.Entries)
	}
}

func TestAuditCache_ExpiresOldEntries(t *testing.T) {
	ac, err := New(10, 1<<20, 1)
	if err != nil {
		t.Fatal(err)
	}

	thought := "```go\nfunc f() {}\n```"
	ac.Put(thought, 1, sampleReview(80))

	entry, _ := ac.entries.Get(Key(thought, 1))
	entry.CreatedAtMs -= 1000

	if _, ok := ac.Get(thought, 1); ok {
		t.Error("Get() hit for an expired entry")
	}
	if got := ac.Stats().Entries; got != 0 {
		t.Errorf("Entries = %d, want 0 after lazy expiry removal", got)
	}
}

func TestAuditCache_Purge(t *testing.T) {
	ac, err := New(10, 1<<20, 0)
	if err != nil {
		t.Fatal(err)
	}

	ac.Put("```go\nfunc a() {}\n```", 1, sampleReview(1))
	ac.Purge()

	if got := ac.Stats().Entries; got != 0 {
		t.Errorf("Entries = %d, want 0 after Purge", got)
	}
	if got := ac.Stats().MemoryBytes; got != 0 {
		t.Errorf("MemoryBytes = %d, want 0 after Purge", got)
	}
}

func TestNew_RejectsNonPositiveMaxEntries(t *testing.T) {
	if _, err := New(0, 1024, 0); err == nil {
		t.Error("New() expected error for maxEntries = 0")
	}
}
