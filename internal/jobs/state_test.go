package jobs

import (
	"sync"
	"testing"

	"showcase/internal/domain"
)

func TestStateLifecycleCompleted(t *testing.T) {
	st := NewState("job-1", []string{"uploads/job-1/a.jpg", "uploads/job-1/b.jpg"})
	if got := st.Status(); got != domain.JobStatusQueued {
		t.Fatalf("initial status = %q, want queued", got)
	}
	if err := st.MarkProcessing("Analyzing images..."); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}
	st.UpdateProgress("Generating contact sheet...")
	st.SetContactSheet("outputs/job-1/contact_sheet.png")

	ok := st.Complete(domain.Result{FinalVideo: "outputs/job-1/final_video.mp4"}, "Video generation complete!")
	if !ok {
		t.Fatalf("Complete() = false, want true")
	}
	snap := st.Snapshot()
	if snap.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %q, want completed", snap.Status)
	}
	if snap.Result == nil || snap.Error != nil {
		t.Fatalf("expected result only, got result=%v error=%v", snap.Result, snap.Error)
	}
	if snap.Artifacts.FinalVideo != "outputs/job-1/final_video.mp4" {
		t.Fatalf("final video = %q", snap.Artifacts.FinalVideo)
	}
	select {
	case <-st.Done():
	default:
		t.Fatalf("Done() not closed after completion")
	}
	if st.Context().Err() == nil {
		t.Fatalf("job context still live after completion")
	}
}

func TestStateTerminalIsFinal(t *testing.T) {
	st := NewState("job-2", nil)
	if err := st.MarkProcessing("x"); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}
	if !st.Fail(domain.JobError{Code: domain.CodeProvider, Message: "boom"}) {
		t.Fatalf("Fail() = false")
	}
	if st.Complete(domain.Result{}, "done") {
		t.Fatalf("Complete() after Fail returned true")
	}
	if st.Fail(domain.JobError{Code: domain.CodeValidation, Message: "again"}) {
		t.Fatalf("second Fail() returned true")
	}
	if err := st.MarkProcessing("y"); err != ErrTerminal {
		t.Fatalf("MarkProcessing() after terminal = %v, want ErrTerminal", err)
	}
	if st.RequestCancellation() {
		t.Fatalf("RequestCancellation() on failed job set the flag")
	}
	st.UpdateProgress("ignored")
	st.SetContactSheet("ignored")
	snap := st.Snapshot()
	if snap.Status != domain.JobStatusFailed || snap.Error.Message != "boom" {
		t.Fatalf("unexpected terminal snapshot: %+v", snap)
	}
	if snap.Artifacts.ContactSheet != "" {
		t.Fatalf("artifact recorded after terminal state")
	}
	if snap.Result != nil {
		t.Fatalf("failed job exposes a result")
	}
}

func TestStateCancellation(t *testing.T) {
	st := NewState("job-3", nil)
	if st.MarkCancelled("") {
		t.Fatalf("MarkCancelled() without request succeeded")
	}
	if !st.RequestCancellation() {
		t.Fatalf("RequestCancellation() = false")
	}
	if !st.RequestCancellation() {
		t.Fatalf("second RequestCancellation() = false")
	}
	if st.Status() != domain.JobStatusQueued {
		t.Fatalf("request alone changed status to %q", st.Status())
	}
	if st.Context().Err() == nil {
		t.Fatalf("job context not cancelled on request")
	}
	if err := st.MarkProcessing("x"); err != ErrCancelRequested {
		t.Fatalf("MarkProcessing() = %v, want ErrCancelRequested", err)
	}
	if !st.MarkCancelled("") {
		t.Fatalf("MarkCancelled() = false")
	}
	snap := st.Snapshot()
	if snap.Status != domain.JobStatusCancelled || snap.Progress != CancelledProgress {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Result != nil || snap.Error != nil {
		t.Fatalf("cancelled job carries result or error")
	}
	if st.Complete(domain.Result{}, "done") {
		t.Fatalf("Complete() after cancel succeeded")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	st := NewState("job-4", []string{"a"})
	_ = st.MarkProcessing("x")
	st.SetFrames([]string{"f1", "f2"})

	snap := st.Snapshot()
	snap.Inputs[0] = "mutated"
	snap.Artifacts.Frames[0] = "mutated"

	again := st.Snapshot()
	if again.Inputs[0] != "a" || again.Artifacts.Frames[0] != "f1" {
		t.Fatalf("snapshot mutation leaked into state: %+v", again)
	}
}

func TestConcurrentProgressAndSnapshots(t *testing.T) {
	st := NewState("job-5", nil)
	_ = st.MarkProcessing("start")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				st.UpdateProgress("working")
			}
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				_ = st.Snapshot()
			}
		}()
	}
	wg.Wait()
	if st.Snapshot().Progress != "working" {
		t.Fatalf("unexpected progress")
	}
}
