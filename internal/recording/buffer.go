package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Status is the lifecycle state of an active recording session.
type Status string

const (
	// StatusReceiving means chunks are still being appended.
	StatusReceiving Status = "receiving"
	// StatusProcessing means the end signal arrived and the pipeline owns
	// the session until cleanup.
	StatusProcessing Status = "processing"
)

var (
	// ErrUnknownRecording is returned when no session exists for an id.
	ErrUnknownRecording = errors.New("unknown recording id")
	// ErrAlreadyProcessing is returned when an end signal arrives for a
	// recording whose pipeline is already in flight.
	ErrAlreadyProcessing = errors.New("recording is already being processed")
)

// Session represents one active recording: the chunks received so far live
// in FilePath, appended in arrival order.
type Session struct {
	ID           string
	UserID       string
	FilePath     string
	StartTime    time.Time
	LastActivity time.Time

	status  Status
	file    *os.File // open for append while receiving
	removed bool     // set when the session left the map; the pointer is stale

	// mu serializes chunk appends and state transitions for this session;
	// appends for different ids never contend on it.
	mu sync.Mutex
}

// SessionInfo is a read-only snapshot of a session for monitoring endpoints.
type SessionInfo struct {
	ID           string    `json:"recording_id"`
	UserID       string    `json:"user_id"`
	Status       Status    `json:"status"`
	StartTime    time.Time `json:"start_time"`
	LastActivity time.Time `json:"last_activity"`
	BytesWritten int64     `json:"bytes_written"`
}

// Buffer manages all active recording sessions. It is the only piece of
// shared mutable state in the service; the map lock is held only for lookups
// and inserts, never across file I/O.
type Buffer struct {
	dir      string
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	timeout  time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewBuffer creates a recording buffer writing temp files under dir and
// starts the idle-session sweeper.
func NewBuffer(logger *slog.Logger, dir string, timeout time.Duration) (*Buffer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp audio dir %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Buffer{
		dir:      dir,
		sessions: make(map[string]*Session),
		logger:   logger,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go b.startSweeper()

	return b, nil
}

// FilePathFor returns the deterministic temp file path for a recording id.
// The id is caller-supplied and opaque, so it is sanitized before being used
// as a file name.
func (b *Buffer) FilePathFor(id string) string {
	return filepath.Join(b.dir, sanitizeID(id)+".webm")
}

// AppendChunk appends raw audio bytes to the recording's temp file, creating
// the session on the first chunk for an id. Appends for the same id are
// applied strictly in arrival order. The first return value reports whether
// this call created the session.
func (b *Buffer) AppendChunk(id, userID string, data []byte) (bool, error) {
	session, created := b.getOrCreate(id, userID)

	session.mu.Lock()
	for session.removed {
		// The session left the map between lookup and lock; a write through
		// the stale pointer would land in a file nobody cleans up. Start
		// over against the current map state.
		session.mu.Unlock()
		session, created = b.getOrCreate(id, userID)
		session.mu.Lock()
	}
	defer session.mu.Unlock()

	if session.status != StatusReceiving {
		return false, ErrAlreadyProcessing
	}

	if session.file == nil {
		// First chunk wins the create; the file is truncated so a stale
		// file left by a crashed run cannot prepend foreign audio.
		f, err := os.OpenFile(session.FilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o644)
		if err != nil {
			return created, fmt.Errorf("failed to open audio file for %s: %w", id, err)
		}
		session.file = f

		b.logger.Info("Started receiving audio",
			slog.String("recording_id", id),
			slog.String("user_id", userID),
			slog.String("file_path", session.FilePath),
		)
	}

	if _, err := session.file.Write(data); err != nil {
		return created, fmt.Errorf("failed to write audio chunk for %s: %w", id, err)
	}

	session.LastActivity = time.Now()
	return created, nil
}

// getOrCreate returns the session for id, creating it if absent, and reports
// whether it created one. The map lock is released before any file I/O
// happens.
func (b *Buffer) getOrCreate(id, userID string) (*Session, bool) {
	b.mu.RLock()
	session, exists := b.sessions[id]
	b.mu.RUnlock()
	if exists {
		return session, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if session, exists = b.sessions[id]; exists {
		return session, false
	}

	now := time.Now()
	session = &Session{
		ID:           id,
		UserID:       userID,
		FilePath:     b.FilePathFor(id),
		StartTime:    now,
		LastActivity: now,
		status:       StatusReceiving,
	}
	b.sessions[id] = session
	return session, true
}

// MarkProcessing transitions a session from receiving to processing and
// hands it to the caller. The transition is atomic: a concurrent duplicate
// end signal gets ErrAlreadyProcessing instead of a second pipeline run.
// The append file handle is flushed and closed so the assembled file is
// complete on disk before transcription reads it.
func (b *Buffer) MarkProcessing(id string) (*Session, error) {
	b.mu.RLock()
	session, exists := b.sessions[id]
	b.mu.RUnlock()

	if !exists {
		return nil, ErrUnknownRecording
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.status != StatusReceiving {
		return nil, ErrAlreadyProcessing
	}

	session.status = StatusProcessing
	session.LastActivity = time.Now()

	if session.file != nil {
		if err := session.file.Close(); err != nil {
			b.logger.Warn("Error closing audio file",
				slog.String("recording_id", id),
				slog.String("error", err.Error()),
			)
		}
		session.file = nil
	}

	return session, nil
}

// StatusOf reports the session status for an id. The second return value is
// false for ids that never existed or have already been cleaned up; the two
// cases are deliberately indistinguishable.
func (b *Buffer) StatusOf(id string) (Status, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	session, exists := b.sessions[id]
	if !exists {
		return "", false
	}

	session.mu.Lock()
	status := session.status
	session.mu.Unlock()

	return status, true
}

// Remove drops the session entry and closes any open file handle. It is
// idempotent; removing an absent id is a no-op. The temp file itself is the
// pipeline's responsibility.
func (b *Buffer) Remove(id string) {
	b.mu.Lock()
	session, exists := b.sessions[id]
	if exists {
		delete(b.sessions, id)
	}
	b.mu.Unlock()

	if !exists {
		return
	}

	session.mu.Lock()
	session.removed = true
	if session.file != nil {
		session.file.Close()
		session.file = nil
	}
	session.mu.Unlock()

	b.logger.Info("Recording session removed",
		slog.String("recording_id", id),
		slog.Duration("duration", time.Since(session.StartTime)),
	)
}

// ActiveCount returns the number of currently tracked sessions.
func (b *Buffer) ActiveCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// Snapshot returns monitoring info for all active sessions.
func (b *Buffer) Snapshot() []SessionInfo {
	b.mu.RLock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		info := SessionInfo{
			ID:           s.ID,
			UserID:       s.UserID,
			Status:       s.status,
			StartTime:    s.StartTime,
			LastActivity: s.LastActivity,
		}
		if fi, err := os.Stat(s.FilePath); err == nil {
			info.BytesWritten = fi.Size()
		}
		s.mu.Unlock()
		infos = append(infos, info)
	}

	return infos
}

// Stop stops the sweeper and closes all open file handles. Temp files for
// sessions that never got an end signal are deleted.
func (b *Buffer) Stop() {
	b.cancel()
	<-b.cleanup

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, session := range b.sessions {
		session.mu.Lock()
		session.removed = true
		if session.file != nil {
			session.file.Close()
			session.file = nil
		}
		session.mu.Unlock()

		if err := os.Remove(session.FilePath); err != nil && !os.IsNotExist(err) {
			b.logger.Warn("Error removing temp audio file on shutdown",
				slog.String("recording_id", id),
				slog.String("error", err.Error()),
			)
		}
		delete(b.sessions, id)
	}
}

// startSweeper periodically removes sessions that went idle without an end
// signal, deleting their temp files. Sessions in processing state are never
// swept; the pipeline removes them when it finishes.
func (b *Buffer) startSweeper() {
	defer close(b.cleanup)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	b.logger.Info("Recording sweeper started",
		slog.Duration("idle_timeout", b.timeout),
	)

	for {
		select {
		case <-b.ctx.Done():
			b.logger.Info("Recording sweeper stopping")
			return

		case <-ticker.C:
			b.sweepIdleSessions()
		}
	}
}

func (b *Buffer) sweepIdleSessions() {
	now := time.Now()

	b.mu.RLock()
	expired := make([]*Session, 0)
	for _, session := range b.sessions {
		session.mu.Lock()
		idle := session.status == StatusReceiving && now.Sub(session.LastActivity) > b.timeout
		session.mu.Unlock()

		if idle {
			expired = append(expired, session)
		}
	}
	b.mu.RUnlock()

	for _, session := range expired {
		b.logger.Warn("Sweeping idle recording session",
			slog.String("recording_id", session.ID),
			slog.Time("last_activity", session.LastActivity),
		)

		b.Remove(session.ID)
		if err := os.Remove(session.FilePath); err != nil && !os.IsNotExist(err) {
			b.logger.Warn("Error removing idle temp audio file",
				slog.String("recording_id", session.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sanitizeID makes a caller-supplied recording id safe to use as a file
// name component. Anything outside [A-Za-z0-9._-] becomes an underscore,
// and a leading dot is neutralized.
func sanitizeID(id string) string {
	var sb strings.Builder
	sb.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	out := sb.String()
	if out == "" || strings.HasPrefix(out, ".") {
		out = "rec_" + out
	}
	return out
}
