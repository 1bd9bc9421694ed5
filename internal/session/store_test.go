package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*FileSessionStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileSessionStore(dir)
	if err != nil {
		t.Fatalf("NewFileSessionStore() error = %v", err)
	}
	return store, dir
}

func TestFileSessionStore_SaveLoad(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := NewState("sess-1", 1000)
	state.LoopID = "loop-a"
	state.AppendIteration(Iteration{ThoughtNumber: 1, CodeFingerprint: "abc", TimestampMs: 1001})

	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ID != state.ID || loaded.LoopID != state.LoopID {
		t.Fatalf("Load() = %+v, want %+v", loaded, state)
	}
	if loaded.CurrentLoop() != 1 {
		t.Errorf("CurrentLoop() = %d, want 1", loaded.CurrentLoop())
	}
}

func TestFileSessionStore_LoadNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Load(context.Background(), "nope")
	if err != ErrNotFound {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestFileSessionStore_LoadCorrupted(t *testing.T) {
	store, dir := newTestStore(t)

	if err := os.WriteFile(GetSessionFile(dir, "sess-bad"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := store.Load(context.Background(), "sess-bad")
	if err == nil {
		t.Fatal("Load() expected error for corrupted session")
	}
}

func TestFileSessionStore_LoadOrCreate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state, err := store.LoadOrCreate(ctx, "new-sess", "loop-x")
	if err != nil {
		t.Fatalf("LoadOrCreate() error = %v", err)
	}
	if state.ID != "new-sess" || state.LoopID != "loop-x" {
		t.Fatalf("LoadOrCreate() = %+v", state)
	}
	if state.CurrentLoop() != 0 {
		t.Errorf("CurrentLoop() = %d, want 0 for fresh session", state.CurrentLoop())
	}

	if err := store.Save(ctx, state); err != nil {
		t.Fatal(err)
	}

	again, err := store.LoadOrCreate(ctx, "new-sess", "loop-y")
	if err != nil {
		t.Fatalf("LoadOrCreate() error = %v", err)
	}
	if again.LoopID != "loop-x" {
		t.Errorf("LoadOrCreate() reloaded LoopID = %q, want unchanged %q", again.LoopID, "loop-x")
	}
}

func TestFileSessionStore_DeleteSession(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := NewState("to-delete", 1)
	if err := store.Save(ctx, state); err != nil {
		t.Fatal(err)
	}
	if !store.SessionExists(ctx, "to-delete") {
		t.Fatal("expected session to exist before delete")
	}

	if err := store.DeleteSession(ctx, "to-delete"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if store.SessionExists(ctx, "to-delete") {
		t.Error("expected session to be gone after delete")
	}

	if err := store.DeleteSession(ctx, "to-delete"); err != ErrNotFound {
		t.Errorf("DeleteSession() on missing session error = %v, want ErrNotFound", err)
	}
}

func TestFileSessionStore_ListSessions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Save(ctx, NewState(id, 1)); err != nil {
			t.Fatal(err)
		}
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 3 {
		t.Errorf("ListSessions() returned %d sessions, want 3", len(sessions))
	}
}

func TestFileSessionStore_Sweep(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	fresh := NewState("fresh", now.UnixMilli())
	stale := NewState("stale", now.Add(-2*time.Hour).UnixMilli())
	stale.UpdatedAtMs = now.Add(-2 * time.Hour).UnixMilli()

	if err := store.Save(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, stale); err != nil {
		t.Fatal(err)
	}

	locked := NewState("locked-stale", now.Add(-2*time.Hour).UnixMilli())
	locked.UpdatedAtMs = now.Add(-2 * time.Hour).UnixMilli()
	if err := store.Save(ctx, locked); err != nil {
		t.Fatal(err)
	}
	lock, err := AcquireLock(GetLockFile(dir, "locked-stale"), "locked-stale", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	swept, err := store.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(swept) != 1 || swept[0] != "stale" {
		t.Fatalf("Sweep() = %v, want only [stale]", swept)
	}
	if store.SessionExists(ctx, "fresh") != true {
		t.Error("Sweep() should not delete a fresh session")
	}
	if store.SessionExists(ctx, "locked-stale") != true {
		t.Error("Sweep() should not delete a session with a live lock")
	}
	if store.SessionExists(ctx, "stale") {
		t.Error("Sweep() should have deleted the idle session")
	}
}

func TestFileSessionStore_Sweep_SkipsSessionHeldByInProcessLock(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	busy := NewState("busy", now.Add(-2*time.Hour).UnixMilli())
	busy.UpdatedAtMs = now.Add(-2 * time.Hour).UnixMilli()
	if err := store.Save(ctx, busy); err != nil {
		t.Fatal(err)
	}

	lock := store.Lock("busy")
	lock.Lock()
	defer lock.Unlock()

	swept, err := store.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(swept) != 0 {
		t.Fatalf("Sweep() = %v, want none while session lock is held", swept)
	}
	if !store.SessionExists(ctx, "busy") {
		t.Error("Sweep() should not delete a session currently held by ProcessThought")
	}
}

func TestFileSessionStore_Lock_SameIDReturnsSameMutex(t *testing.T) {
	store, _ := newTestStore(t)

	l1 := store.Lock("sess-x")
	l2 := store.Lock("sess-x")
	if l1 != l2 {
		t.Error("Lock() returned different mutexes for the same session id")
	}

	l3 := store.Lock("sess-y")
	if l1 == l3 {
		t.Error("Lock() returned the same mutex for different session ids")
	}
}

func TestFileSessionStore_Lock_SerializesAccess(t *testing.T) {
	store, _ := newTestStore(t)
	lock := store.Lock("sess-serial")

	order := make([]int, 0, 2)
	done := make(chan struct{})

	lock.Lock()
	go func() {
		lock.Lock()
		defer lock.Unlock()
		order = append(order, 2)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	order = append(order, 1)
	lock.Unlock()

	<-done
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("Lock() did not serialize access, got order %v", order)
	}
}

func TestFileLockManager_AcquireAndForceRelease(t *testing.T) {
	dir := t.TempDir()
	mgr := NewFileLockManager(dir)
	ctx := context.Background()

	handle, err := mgr.Acquire(ctx, "locked-sess")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if handle.SessionID() != "locked-sess" {
		t.Errorf("SessionID() = %q, want %q", handle.SessionID(), "locked-sess")
	}

	info, locked := mgr.IsLocked(ctx, "locked-sess")
	if !locked || info == nil {
		t.Fatal("IsLocked() expected true after Acquire")
	}

	if err := handle.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	_, locked = mgr.IsLocked(ctx, "locked-sess")
	if locked {
		t.Error("IsLocked() expected false after Release")
	}
}

func TestFileRecoveryManager_CheckForRecovery(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSessionStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, NewState("stale-sess", 1)); err != nil {
		t.Fatal(err)
	}

	stale := Lock{SessionID: "stale-sess", PID: 999999999, Hostname: "h", StartedAt: time.Now()}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(GetLockFile(dir, "stale-sess"), data, 0644); err != nil {
		t.Fatal(err)
	}

	recovery := NewFileRecoveryManager(dir)
	candidates, err := recovery.CheckForRecovery(ctx)
	if err != nil {
		t.Fatalf("CheckForRecovery() error = %v", err)
	}
	if len(candidates) != 1 || candidates[0].SessionID != "stale-sess" {
		t.Fatalf("CheckForRecovery() = %+v, want one candidate for stale-sess", candidates)
	}

	result, err := recovery.RecoverSession(ctx, "stale-sess")
	if err != nil {
		t.Fatalf("RecoverSession() error = %v", err)
	}
	if !result.Recovered || !result.CleanedUp {
		t.Errorf("RecoverSession() = %+v, want Recovered and CleanedUp", result)
	}
}

func TestFilePersistenceLayer_Wiring(t *testing.T) {
	dir := t.TempDir()
	layer, err := NewFilePersistenceLayer(dir)
	if err != nil {
		t.Fatalf("NewFilePersistenceLayer() error = %v", err)
	}
	defer layer.Close()

	ctx := context.Background()
	if err := layer.Save(ctx, NewState("wired", 1)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !layer.SessionExists(ctx, "wired") {
		t.Error("expected session to exist via composite layer")
	}
}

func TestFileSessionStore_LoadOrCreateRecoversFromCorruption(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	if err := os.WriteFile(GetSessionFile(dir, "sess-bad"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	state, err := store.LoadOrCreate(ctx, "sess-bad", "loop-x")
	if err != nil {
		t.Fatalf("LoadOrCreate() error = %v, want complete_loss recovery", err)
	}
	if state.ID != "sess-bad" || state.LoopID != "loop-x" || len(state.Iterations) != 0 {
		t.Errorf("LoadOrCreate() = %+v, want a fresh session", state)
	}
}

func TestFileSessionStore_HandleFailure(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := NewState("sess-1", 1000)
	state.CodexContextID = "ctx-handle"
	state.CodexContextActive = true
	if err := store.Save(ctx, state); err != nil {
		t.Fatal(err)
	}

	if err := store.HandleFailure(ctx, "sess-1", errors.New("reviewer crashed")); err != nil {
		t.Fatalf("HandleFailure() error = %v", err)
	}

	loaded, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.CodexContextActive || loaded.CodexContextID != "" {
		t.Error("HandleFailure() should clear the context handle")
	}
	if loaded.CompletionReason == "" {
		t.Error("HandleFailure() should record a completion reason")
	}
}

func TestFileSessionStore_HandleFailureOnMissingSessionIsNoOp(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.HandleFailure(context.Background(), "never-existed", errors.New("boom")); err != nil {
		t.Errorf("HandleFailure() error = %v, want nil for a best-effort no-op", err)
	}
}

func TestFileSessionStore_ValidateIntegrity_Valid(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := NewState("sess-1", 1000)
	if err := store.Save(ctx, state); err != nil {
		t.Fatal(err)
	}

	report, err := store.ValidateIntegrity(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ValidateIntegrity() error = %v", err)
	}
	if !report.IsValid {
		t.Errorf("ValidateIntegrity() = %+v, want valid", report)
	}
}

func TestFileSessionStore_ValidateIntegrity_CorruptJSON(t *testing.T) {
	store, dir := newTestStore(t)

	if err := os.WriteFile(GetSessionFile(dir, "sess-bad"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	report, err := store.ValidateIntegrity(context.Background(), "sess-bad")
	if err != nil {
		t.Fatalf("ValidateIntegrity() error = %v", err)
	}
	if report.IsValid || report.CorruptionType != "complete_loss" {
		t.Errorf("ValidateIntegrity() = %+v, want complete_loss", report)
	}
}

func TestFileSessionStore_ValidateIntegrity_NotFound(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.ValidateIntegrity(context.Background(), "nope"); err != ErrNotFound {
		t.Errorf("ValidateIntegrity() error = %v, want ErrNotFound", err)
	}
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	if err := atomicWriteFile(path, []byte(`{"a":1}`), 0644); err != nil {
		t.Fatalf("atomicWriteFile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("file contents = %q", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" || e.Name()[0] == '.' && e.Name() != "out.json" {
			t.Errorf("temp file leaked: %s", e.Name())
		}
	}
}
