package recording

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestBuffer(t *testing.T) *Buffer {
	t.Helper()

	b, err := NewBuffer(testLogger(), t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	t.Cleanup(b.Stop)

	return b
}

func TestAppendChunkCreatesSession(t *testing.T) {
	b := newTestBuffer(t)

	if _, err := b.AppendChunk("rec-1", "user@example.com", []byte("abc")); err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}

	if b.ActiveCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", b.ActiveCount())
	}

	status, ok := b.StatusOf("rec-1")
	if !ok {
		t.Fatal("Expected session to exist")
	}
	if status != StatusReceiving {
		t.Errorf("Expected status receiving, got %s", status)
	}

	data, err := os.ReadFile(b.FilePathFor("rec-1"))
	if err != nil {
		t.Fatalf("Failed to read audio file: %v", err)
	}
	if !bytes.Equal(data, []byte("abc")) {
		t.Errorf("Expected file content 'abc', got %q", data)
	}
}

func TestAppendChunkOrdering(t *testing.T) {
	b := newTestBuffer(t)

	var expected bytes.Buffer
	for i := 0; i < 50; i++ {
		chunk := []byte(fmt.Sprintf("chunk-%03d|", i))
		expected.Write(chunk)
		if _, err := b.AppendChunk("rec-1", "user@example.com", chunk); err != nil {
			t.Fatalf("Failed to append chunk %d: %v", i, err)
		}
	}

	session, err := b.MarkProcessing("rec-1")
	if err != nil {
		t.Fatalf("Failed to mark processing: %v", err)
	}

	data, err := os.ReadFile(session.FilePath)
	if err != nil {
		t.Fatalf("Failed to read audio file: %v", err)
	}
	if !bytes.Equal(data, expected.Bytes()) {
		t.Errorf("Assembled file does not match appended chunks: expected %d bytes, got %d",
			expected.Len(), len(data))
	}
}

func TestAppendChunkConcurrentRecordings(t *testing.T) {
	b := newTestBuffer(t)

	const numRecordings = 8
	const chunksPerRecording = 25

	var wg sync.WaitGroup
	wg.Add(numRecordings)
	for r := 0; r < numRecordings; r++ {
		go func(r int) {
			defer wg.Done()
			id := fmt.Sprintf("rec-%d", r)
			for i := 0; i < chunksPerRecording; i++ {
				chunk := []byte(fmt.Sprintf("%d:%03d|", r, i))
				if _, err := b.AppendChunk(id, "user@example.com", chunk); err != nil {
					t.Errorf("Failed to append chunk for %s: %v", id, err)
					return
				}
			}
		}(r)
	}
	wg.Wait()

	if b.ActiveCount() != numRecordings {
		t.Errorf("Expected %d active sessions, got %d", numRecordings, b.ActiveCount())
	}

	// Each recording's file must hold its own chunks in order.
	for r := 0; r < numRecordings; r++ {
		id := fmt.Sprintf("rec-%d", r)
		var expected bytes.Buffer
		for i := 0; i < chunksPerRecording; i++ {
			expected.WriteString(fmt.Sprintf("%d:%03d|", r, i))
		}

		data, err := os.ReadFile(b.FilePathFor(id))
		if err != nil {
			t.Fatalf("Failed to read audio file for %s: %v", id, err)
		}
		if !bytes.Equal(data, expected.Bytes()) {
			t.Errorf("Recording %s file content mismatch", id)
		}
	}
}

func TestAppendChunkReportsCreation(t *testing.T) {
	b := newTestBuffer(t)

	created, err := b.AppendChunk("rec-1", "user@example.com", []byte("abc"))
	if err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}
	if !created {
		t.Error("Expected first chunk to report session creation")
	}

	created, err = b.AppendChunk("rec-1", "user@example.com", []byte("def"))
	if err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}
	if created {
		t.Error("Expected second chunk not to report session creation")
	}
}

func TestAppendChunkConcurrentFirstChunks(t *testing.T) {
	b := newTestBuffer(t)

	const numCallers = 10
	var createdCount int
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(numCallers)
	for i := 0; i < numCallers; i++ {
		go func() {
			defer wg.Done()
			created, err := b.AppendChunk("rec-1", "user@example.com", []byte("x"))
			if err != nil {
				t.Errorf("Failed to append chunk: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if createdCount != 1 {
		t.Errorf("Expected exactly 1 append to report creation, got %d", createdCount)
	}
}

func TestAppendChunkAfterRemoveStartsFresh(t *testing.T) {
	b := newTestBuffer(t)

	if _, err := b.AppendChunk("rec-1", "user@example.com", []byte("abc")); err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}

	// Hold a pointer the way a concurrent append would between its map
	// lookup and taking the session lock.
	stale, _ := b.getOrCreate("rec-1", "user@example.com")

	b.Remove("rec-1")

	stale.mu.Lock()
	removed := stale.removed
	stale.mu.Unlock()
	if !removed {
		t.Fatal("Expected removed session to be flagged so late appends cannot write through it")
	}

	// A chunk arriving after removal must open a fresh session tracked in
	// the map, never resurrect the old one's file outside any lifecycle.
	created, err := b.AppendChunk("rec-1", "user@example.com", []byte("new"))
	if err != nil {
		t.Fatalf("Failed to append chunk after remove: %v", err)
	}
	if !created {
		t.Error("Expected append after remove to create a new session")
	}
	if b.ActiveCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", b.ActiveCount())
	}

	current, _ := b.getOrCreate("rec-1", "user@example.com")
	if current == stale {
		t.Fatal("Expected a fresh session after remove, got the stale one")
	}

	data, err := os.ReadFile(b.FilePathFor("rec-1"))
	if err != nil {
		t.Fatalf("Failed to read audio file: %v", err)
	}
	if !bytes.Equal(data, []byte("new")) {
		t.Errorf("Expected fresh file content 'new', got %q", data)
	}
}

func TestAppendChunkRemoveRaceLeavesNoOrphans(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBuffer(testLogger(), dir, time.Hour)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}

	const iterations = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			if _, err := b.AppendChunk("rec-1", "user@example.com", []byte("x")); err != nil {
				t.Errorf("Failed to append chunk: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			b.Remove("rec-1")
			os.Remove(b.FilePathFor("rec-1"))
		}
	}()
	wg.Wait()

	b.Stop()

	// Stop closes and deletes every tracked session's file; anything left
	// on disk was written through a stale session pointer.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no leftover temp files, found %d", len(entries))
	}
}

func TestMarkProcessing(t *testing.T) {
	b := newTestBuffer(t)

	if _, err := b.AppendChunk("rec-1", "user@example.com", []byte("abc")); err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}

	session, err := b.MarkProcessing("rec-1")
	if err != nil {
		t.Fatalf("Failed to mark processing: %v", err)
	}
	if session.UserID != "user@example.com" {
		t.Errorf("Expected user id to be preserved, got %s", session.UserID)
	}

	status, ok := b.StatusOf("rec-1")
	if !ok || status != StatusProcessing {
		t.Errorf("Expected status processing, got %s (exists=%v)", status, ok)
	}

	// A second end signal must be rejected while the first is in flight.
	_, err = b.MarkProcessing("rec-1")
	if !errors.Is(err, ErrAlreadyProcessing) {
		t.Errorf("Expected ErrAlreadyProcessing for duplicate end signal, got %v", err)
	}

	// Late chunks after the end signal are rejected too.
	_, err = b.AppendChunk("rec-1", "user@example.com", []byte("late"))
	if !errors.Is(err, ErrAlreadyProcessing) {
		t.Errorf("Expected ErrAlreadyProcessing for late chunk, got %v", err)
	}
}

func TestMarkProcessingUnknownID(t *testing.T) {
	b := newTestBuffer(t)

	_, err := b.MarkProcessing("never-seen")
	if !errors.Is(err, ErrUnknownRecording) {
		t.Errorf("Expected ErrUnknownRecording, got %v", err)
	}
}

func TestMarkProcessingConcurrent(t *testing.T) {
	b := newTestBuffer(t)

	if _, err := b.AppendChunk("rec-1", "user@example.com", []byte("abc")); err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}

	const numCallers = 10
	var wins, conflicts int
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(numCallers)
	for i := 0; i < numCallers; i++ {
		go func() {
			defer wg.Done()
			_, err := b.MarkProcessing("rec-1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, ErrAlreadyProcessing) {
				conflicts++
			} else {
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly 1 caller to win the transition, got %d", wins)
	}
	if conflicts != numCallers-1 {
		t.Errorf("Expected %d conflicts, got %d", numCallers-1, conflicts)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	b := newTestBuffer(t)

	if _, err := b.AppendChunk("rec-1", "user@example.com", []byte("abc")); err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}

	b.Remove("rec-1")
	if b.ActiveCount() != 0 {
		t.Errorf("Expected 0 active sessions after remove, got %d", b.ActiveCount())
	}

	// Removing again, or removing an id that never existed, must be a no-op.
	b.Remove("rec-1")
	b.Remove("never-seen")

	_, ok := b.StatusOf("rec-1")
	if ok {
		t.Error("Expected removed session to be unknown")
	}
}

func TestSnapshot(t *testing.T) {
	b := newTestBuffer(t)

	if _, err := b.AppendChunk("rec-1", "alice@example.com", []byte("abcd")); err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}
	if _, err := b.AppendChunk("rec-2", "bob@example.com", []byte("xy")); err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}

	infos := b.Snapshot()
	if len(infos) != 2 {
		t.Fatalf("Expected 2 sessions in snapshot, got %d", len(infos))
	}

	byID := make(map[string]SessionInfo)
	for _, info := range infos {
		byID[info.ID] = info
	}

	if info, ok := byID["rec-1"]; !ok {
		t.Error("Expected rec-1 in snapshot")
	} else {
		if info.UserID != "alice@example.com" {
			t.Errorf("Expected user alice@example.com, got %s", info.UserID)
		}
		if info.BytesWritten != 4 {
			t.Errorf("Expected 4 bytes written, got %d", info.BytesWritten)
		}
		if info.Status != StatusReceiving {
			t.Errorf("Expected status receiving, got %s", info.Status)
		}
	}
}

func TestSweepIdleSessions(t *testing.T) {
	b, err := NewBuffer(testLogger(), t.TempDir(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	defer b.Stop()

	if _, err := b.AppendChunk("idle", "user@example.com", []byte("abc")); err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}
	if _, err := b.AppendChunk("busy", "user@example.com", []byte("abc")); err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}
	if _, err := b.MarkProcessing("busy"); err != nil {
		t.Fatalf("Failed to mark processing: %v", err)
	}

	idlePath := b.FilePathFor("idle")

	time.Sleep(100 * time.Millisecond)
	b.sweepIdleSessions()

	if _, ok := b.StatusOf("idle"); ok {
		t.Error("Expected idle session to be swept")
	}
	if _, err := os.Stat(idlePath); !os.IsNotExist(err) {
		t.Error("Expected idle temp file to be deleted")
	}

	// Sessions already handed to the pipeline are never swept.
	if status, ok := b.StatusOf("busy"); !ok || status != StatusProcessing {
		t.Errorf("Expected processing session to survive the sweep, got %s (exists=%v)", status, ok)
	}
}

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		expected string
	}{
		{"plain id", "rec-123", "rec-123"},
		{"uuid", "a3f0c9d2-1b4e-4f6a-8c7d-2e9b0a1c3d5f", "a3f0c9d2-1b4e-4f6a-8c7d-2e9b0a1c3d5f"},
		{"path traversal", "../../etc/passwd", "rec_.._.._etc_passwd"},
		{"slashes", "a/b\\c", "a_b_c"},
		{"spaces and symbols", "my rec!", "my_rec_"},
		{"empty", "", "rec_"},
		{"leading dot", ".hidden", "rec_.hidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeID(tt.id)
			if got != tt.expected {
				t.Errorf("sanitizeID(%q) = %q, expected %q", tt.id, got, tt.expected)
			}
		})
	}
}

func TestFilePathForStaysInDir(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBuffer(testLogger(), dir, time.Hour)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	defer b.Stop()

	path := b.FilePathFor("../../escape")
	rel, err := filepath.Rel(dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		t.Errorf("Expected path inside %s, got %s", dir, path)
	}
	if !strings.HasSuffix(path, ".webm") {
		t.Errorf("Expected .webm suffix, got %s", path)
	}
}

func TestStopRemovesTempFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBuffer(testLogger(), dir, time.Hour)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}

	if _, err := b.AppendChunk("rec-1", "user@example.com", []byte("abc")); err != nil {
		t.Fatalf("Failed to append chunk: %v", err)
	}
	path := b.FilePathFor("rec-1")

	b.Stop()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected temp file to be removed on shutdown")
	}
	if b.ActiveCount() != 0 {
		t.Errorf("Expected 0 active sessions after stop, got %d", b.ActiveCount())
	}
}
