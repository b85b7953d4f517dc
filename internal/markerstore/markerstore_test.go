package markerstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestClaimAndCommit(t *testing.T) {
	dir := t.TempDir()
	s := New()
	output := filepath.Join(dir, "clip.mp4")

	h, err := s.Claim(output)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if _, err := os.Stat(h.TmpPath()); err != nil {
		t.Fatalf("expected tmp file to exist: %v", err)
	}

	if err := os.WriteFile(h.TmpPath(), []byte("encoded bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := h.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := os.Stat(h.TmpPath()); !os.IsNotExist(err) {
		t.Error("expected tmp file to be gone after commit")
	}
	if _, err := os.Stat(output); err != nil {
		t.Errorf("expected final output to exist: %v", err)
	}
}

func TestClaimTwiceFails(t *testing.T) {
	dir := t.TempDir()
	s := New()
	output := filepath.Join(dir, "clip.mp4")

	if _, err := s.Claim(output); err != nil {
		t.Fatalf("first Claim() error = %v", err)
	}
	if _, err := s.Claim(output); err == nil {
		t.Error("expected second Claim() on same output to fail")
	}
}

func TestAbortRemovesTmp(t *testing.T) {
	dir := t.TempDir()
	s := New()
	output := filepath.Join(dir, "clip.mp4")

	h, err := s.Claim(output)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	if _, err := os.Stat(h.TmpPath()); !os.IsNotExist(err) {
		t.Error("expected tmp file removed after abort")
	}
}

func TestCloseIsSafetyNet(t *testing.T) {
	dir := t.TempDir()
	s := New()
	output := filepath.Join(dir, "clip.mp4")

	h, err := s.Claim(output)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(h.TmpPath()); !os.IsNotExist(err) {
		t.Error("expected Close() to remove dangling tmp file")
	}

	// Close after Commit is a no-op.
	h2, _ := s.Claim(output)
	_ = os.WriteFile(h2.TmpPath(), []byte("x"), 0o644)
	if err := h2.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := h2.Close(); err != nil {
		t.Fatalf("Close() after Commit should be a no-op, got %v", err)
	}
}

func TestRecordFailureAndClassify(t *testing.T) {
	dir := t.TempDir()
	s := New()
	output := filepath.Join(dir, "clip.mp4")
	source := filepath.Join(dir, "clip.mov")
	if err := os.WriteFile(source, []byte("src"), 0o644); err != nil {
		t.Fatal(err)
	}

	class, err := s.ClassifyExisting(output, source)
	if err != nil {
		t.Fatal(err)
	}
	if class != ClassifyNone {
		t.Errorf("expected ClassifyNone, got %v", class)
	}

	if err := s.RecordFailure(output, "encoder exited with code 1"); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	class, err = s.ClassifyExisting(output, source)
	if err != nil {
		t.Fatal(err)
	}
	if class != ClassifyErrGeneral {
		t.Errorf("expected ClassifyErrGeneral, got %v", class)
	}

	if err := s.RecordFailure(output, "fatal: "+HWCapSignature); err != nil {
		t.Fatal(err)
	}
	class, err = s.ClassifyExisting(output, source)
	if err != nil {
		t.Fatal(err)
	}
	if class != ClassifyErrHW {
		t.Errorf("expected ClassifyErrHW, got %v", class)
	}
}

func TestClassifyExistingDone(t *testing.T) {
	dir := t.TempDir()
	s := New()
	source := filepath.Join(dir, "clip.mov")
	output := filepath.Join(dir, "clip.mp4")

	if err := os.WriteFile(source, []byte("src"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(output, []byte("out"), 0o644); err != nil {
		t.Fatal(err)
	}

	class, err := s.ClassifyExisting(output, source)
	if err != nil {
		t.Fatal(err)
	}
	if class != ClassifyDone {
		t.Errorf("expected ClassifyDone, got %v", class)
	}
}

func TestDeleteErrMarker(t *testing.T) {
	dir := t.TempDir()
	s := New()
	output := filepath.Join(dir, "clip.mp4")

	if err := s.RecordFailure(output, "boom"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteErrMarker(output); err != nil {
		t.Fatalf("DeleteErrMarker() error = %v", err)
	}
	if _, err := os.Stat(output + ErrSuffix); !os.IsNotExist(err) {
		t.Error("expected .err to be removed")
	}

	// Deleting a nonexistent marker is not an error.
	if err := s.DeleteErrMarker(output); err != nil {
		t.Errorf("DeleteErrMarker() on missing file should be a no-op, got %v", err)
	}
}

func TestHousekeeping(t *testing.T) {
	dir := t.TempDir()
	s := New()

	mustWrite := func(name string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("a.mp4.tmp")
	mustWrite("b.mp4.err")
	mustWrite("c_colorfix.mp4")
	mustWrite("d.mp4") // untouched final output

	result, err := s.Housekeeping(dir, false)
	if err != nil {
		t.Fatalf("Housekeeping() error = %v", err)
	}
	if result.TmpRemoved != 1 {
		t.Errorf("TmpRemoved = %d, want 1", result.TmpRemoved)
	}
	if result.ColorFixRemoved != 1 {
		t.Errorf("ColorFixRemoved = %d, want 1", result.ColorFixRemoved)
	}
	if result.ErrRemoved != 0 {
		t.Errorf("ErrRemoved = %d, want 0 when clean_errors is off", result.ErrRemoved)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.mp4.err")); err != nil {
		t.Error("expected .err to survive when clean_errors is off")
	}
	if _, err := os.Stat(filepath.Join(dir, "d.mp4")); err != nil {
		t.Error("expected untouched final output to survive housekeeping")
	}
}

func TestHousekeepingStaleTmp(t *testing.T) {
	dir := t.TempDir()
	s := New()

	freshPath := filepath.Join(dir, "fresh.mp4.tmp")
	stalePath := filepath.Join(dir, "stale.mp4.tmp")
	if err := os.WriteFile(freshPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stalePath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	oldTime := time.Now().Add(-2 * StaleTmpAge)
	if err := os.Chtimes(stalePath, oldTime, oldTime); err != nil {
		t.Fatal(err)
	}

	result, err := s.Housekeeping(dir, false)
	if err != nil {
		t.Fatalf("Housekeeping() error = %v", err)
	}
	if result.TmpRemoved != 2 {
		t.Errorf("TmpRemoved = %d, want 2", result.TmpRemoved)
	}
	if result.StaleTmpRemoved != 1 {
		t.Errorf("StaleTmpRemoved = %d, want 1", result.StaleTmpRemoved)
	}
}

func TestHousekeepingCleanErrors(t *testing.T) {
	dir := t.TempDir()
	s := New()
	if err := os.WriteFile(filepath.Join(dir, "b.mp4.err"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := s.Housekeeping(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	if result.ErrRemoved != 1 {
		t.Errorf("ErrRemoved = %d, want 1 with clean_errors on", result.ErrRemoved)
	}
}

func TestHousekeepingNonExistentRoot(t *testing.T) {
	s := New()
	result, err := s.Housekeeping("/nonexistent/vbcompress/root", false)
	if err != nil {
		t.Errorf("expected no error for a nonexistent output root, got %v", err)
	}
	if result.TmpRemoved != 0 {
		t.Errorf("expected zero removals, got %+v", result)
	}
}

func TestColorFixPath(t *testing.T) {
	got := ColorFixPath("/out/clip.mp4")
	want := "/out/clip_colorfix.mp4"
	if got != want {
		t.Errorf("ColorFixPath() = %q, want %q", got, want)
	}
}
