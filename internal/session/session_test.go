package session

import (
	"context"
	"testing"
	"time"

	"github.com/stoneforge/stoneforge/internal/errs"
	"github.com/stoneforge/stoneforge/pkg/models"
)

func TestStartAndGetActiveSession(t *testing.T) {
	m := NewLocalManager()

	sess, err := m.StartSession("ag-w1", "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.ID == "" || sess.Status != models.SessionRunning {
		t.Errorf("unexpected session %+v", sess)
	}

	got, err := m.GetActiveSession(context.Background(), "ag-w1")
	if err != nil {
		t.Fatalf("GetActiveSession: %v", err)
	}
	if got == nil || got.ID != sess.ID {
		t.Errorf("active session = %+v, want %s", got, sess.ID)
	}

	none, err := m.GetActiveSession(context.Background(), "ag-w2")
	if err != nil {
		t.Fatalf("GetActiveSession: %v", err)
	}
	if none != nil {
		t.Errorf("expected no session for ag-w2, got %+v", none)
	}
}

func TestStartSessionRejectsSecondActive(t *testing.T) {
	m := NewLocalManager()
	if _, err := m.StartSession("ag-w1", ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	_, err := m.StartSession("ag-w1", "")
	if !errs.Is(err, errs.KindConflict) {
		t.Errorf("expected Conflict, got %v", err)
	}
}

func TestMessageSession(t *testing.T) {
	var delivered []string
	m := NewLocalManager(WithMessageFunc(func(_ context.Context, sess *Session, content string) error {
		delivered = append(delivered, sess.AgentID+":"+content)
		return nil
	}))

	sess, _ := m.StartSession("ag-w1", "")
	if err := m.MessageSession(context.Background(), sess.ID, "ping"); err != nil {
		t.Fatalf("MessageSession: %v", err)
	}
	if len(delivered) != 1 || delivered[0] != "ag-w1:ping" {
		t.Errorf("delivered = %v", delivered)
	}

	err := m.MessageSession(context.Background(), "nope", "ping")
	if !errs.Is(err, errs.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestStopSession(t *testing.T) {
	var stopped []StopOptions
	m := NewLocalManager(WithStopFunc(func(_ context.Context, _ *Session, opts StopOptions) error {
		stopped = append(stopped, opts)
		return nil
	}))

	sess, _ := m.StartSession("ag-w1", "")
	err := m.StopSession(context.Background(), sess.ID, StopOptions{Graceful: true, Reason: "restart"})
	if err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if len(stopped) != 1 || !stopped[0].Graceful || stopped[0].Reason != "restart" {
		t.Errorf("stop options = %v", stopped)
	}

	got, _ := m.GetActiveSession(context.Background(), "ag-w1")
	if got != nil {
		t.Errorf("session still active after stop: %+v", got)
	}

	// A fresh session can start once the old one is terminated.
	if _, err := m.StartSession("ag-w1", ""); err != nil {
		t.Errorf("restart after stop: %v", err)
	}
}

func TestMessageStoppedSession(t *testing.T) {
	m := NewLocalManager()
	sess, _ := m.StartSession("ag-w1", "")
	if err := m.StopSession(context.Background(), sess.ID, StopOptions{}); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	err := m.MessageSession(context.Background(), sess.ID, "ping")
	if !errs.Is(err, errs.KindConflict) {
		t.Errorf("expected Conflict for terminated session, got %v", err)
	}
}

func TestRecordActivity(t *testing.T) {
	current := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	m := NewLocalManager(WithClock(func() time.Time { return current }))

	sess, _ := m.StartSession("ag-w1", "/tmp/out.log")
	current = current.Add(30 * time.Second)
	m.RecordActivity(sess.ID)

	got, _ := m.GetActiveSession(context.Background(), "ag-w1")
	if !got.LastActivityAt.Equal(current) {
		t.Errorf("last activity = %v, want %v", got.LastActivityAt, current)
	}

	if found := m.SessionByOutputPath("/tmp/out.log"); found == nil || found.ID != sess.ID {
		t.Errorf("SessionByOutputPath = %+v", found)
	}
	if m.SessionByOutputPath("/tmp/other.log") != nil {
		t.Error("matched the wrong output path")
	}
}
