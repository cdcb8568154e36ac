package report

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open log file: %v", err)
	}
	defer file.Close()

	var out []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var decoded Event
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("failed to decode line %d: %v", len(out)+1, err)
		}
		out = append(out, decoded)
	}
	return out
}

func TestNewEventLogger(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(logger.Path()); err != nil {
		t.Errorf("event log file was not created at %s", logger.Path())
	}
	if filepath.Ext(logger.Path()) != ".jsonl" {
		t.Errorf("unexpected event log name %s", logger.Path())
	}
}

func TestEventLogger_RecordTransition(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	ev := Transition(StageRoute, 7, "/in/a.wav", "scored", "pending_review")
	ev.RunID = "run-1"
	if err := logger.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.FileID != 7 || got.From != "scored" || got.To != "pending_review" || got.RunID != "run-1" {
		t.Errorf("unexpected event %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("expected timestamp to be filled in")
	}
}

func TestEventLogger_ConcurrentWrites(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	const numGoroutines = 10
	const eventsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				if err := logger.Log(&Event{Level: LevelInfo, Stage: StageExtract, FileID: int64(id*100 + j)}); err != nil {
					t.Errorf("concurrent log failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()
	logger.Close()

	if n := len(readEvents(t, logger.Path())); n != numGoroutines*eventsPerGoroutine {
		t.Errorf("expected %d events, got %d", numGoroutines*eventsPerGoroutine, n)
	}
}

func TestEventLogger_LevelFiltering(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelWarning)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	logger.Log(&Event{Level: LevelDebug, Stage: StageMatch})
	logger.Log(&Event{Level: LevelInfo, Stage: StageMatch})
	logger.Log(Failure(StageExtract, 1, "/x.wav", "corrupt_media", errors.New("truncated")))
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != 1 {
		t.Fatalf("expected only the error event, got %d", len(events))
	}
	if events[0].ErrorKind != "corrupt_media" || events[0].Error != "truncated" {
		t.Errorf("unexpected failure event %+v", events[0])
	}
}

func TestNullLoggerIsSafe(t *testing.T) {
	logger := NullLogger()
	if err := logger.Record(context.Background(), &Event{Level: LevelError}); err != nil {
		t.Errorf("expected nil logger to ignore events, got %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("expected nil logger Close to succeed, got %v", err)
	}
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(context.Context, *Event) error {
	f.calls++
	return errors.New("sink down")
}

func TestMultiTriesEveryRecorder(t *testing.T) {
	first := &failingRecorder{}
	second := &failingRecorder{}
	err := Multi{first, nil, second}.Record(context.Background(), &Event{Level: LevelInfo})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("expected both recorders called once, got %d and %d", first.calls, second.calls)
	}
}
