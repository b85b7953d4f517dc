package discovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/five82/vbcompress/internal/markerstore"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func baseOpts(inputRoot, outputRoot string) Options {
	return Options{
		InputRoot:    inputRoot,
		OutputRoot:   outputRoot,
		Extensions:   []string{".mp4", ".mov"},
		MinSizeBytes: 100,
		CanonicalExt: ".mp4",
		MaxDepth:     3,
	}
}

func TestScanReadyAndTooSmall(t *testing.T) {
	dir := t.TempDir()
	inputRoot := filepath.Join(dir, "in")
	outputRoot := filepath.Join(dir, "in_out")

	writeFile(t, filepath.Join(inputRoot, "a.mov"), 200)
	writeFile(t, filepath.Join(inputRoot, "tiny.mov"), 10)
	writeFile(t, filepath.Join(inputRoot, "notes.txt"), 200)

	store := markerstore.New()
	result, err := Scan(baseOpts(inputRoot, outputRoot), store, nil)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if len(result.Ready) != 1 {
		t.Fatalf("expected 1 ready file, got %d", len(result.Ready))
	}
	if result.Ready[0].Path != filepath.Join(inputRoot, "a.mov") {
		t.Errorf("unexpected ready file: %s", result.Ready[0].Path)
	}
	if result.TooSmall != 1 {
		t.Errorf("expected TooSmall=1, got %d", result.TooSmall)
	}
}

func TestScanExcludesOutputSubtree(t *testing.T) {
	dir := t.TempDir()
	inputRoot := filepath.Join(dir, "in")
	outputRoot := filepath.Join(dir, "in_out")

	writeFile(t, filepath.Join(inputRoot, "a.mov"), 200)
	writeFile(t, filepath.Join(outputRoot, "a.mp4"), 200)

	store := markerstore.New()
	result, err := Scan(baseOpts(inputRoot, outputRoot), store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Ready) != 1 {
		t.Fatalf("expected 1 ready file, got %d", len(result.Ready))
	}
}

func TestScanClassifiesAlreadyDone(t *testing.T) {
	dir := t.TempDir()
	inputRoot := filepath.Join(dir, "in")
	outputRoot := filepath.Join(dir, "in_out")

	source := filepath.Join(inputRoot, "a.mov")
	writeFile(t, source, 200)
	time.Sleep(10 * time.Millisecond)
	writeFile(t, filepath.Join(outputRoot, "a.mp4"), 200)

	store := markerstore.New()
	result, err := Scan(baseOpts(inputRoot, outputRoot), store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Ready) != 0 {
		t.Errorf("expected 0 ready files, got %d", len(result.Ready))
	}
	if result.AlreadyDone != 1 {
		t.Errorf("expected AlreadyDone=1, got %d", result.AlreadyDone)
	}
}

func TestScanClassifiesErrGeneralAndErrHW(t *testing.T) {
	dir := t.TempDir()
	inputRoot := filepath.Join(dir, "in")
	outputRoot := filepath.Join(dir, "in_out")

	writeFile(t, filepath.Join(inputRoot, "a.mov"), 200)
	writeFile(t, filepath.Join(inputRoot, "b.mov"), 200)

	store := markerstore.New()
	outA, _ := filepath.Abs(filepath.Join(outputRoot, "a.mp4"))
	outB, _ := filepath.Abs(filepath.Join(outputRoot, "b.mp4"))
	if err := store.RecordFailure(outA, "encoder exited with code 1"); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordFailure(outB, "fatal: "+markerstore.HWCapSignature); err != nil {
		t.Fatal(err)
	}

	result, err := Scan(baseOpts(inputRoot, outputRoot), store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.ErrGeneral != 1 {
		t.Errorf("expected ErrGeneral=1, got %d", result.ErrGeneral)
	}
	if result.ErrHW != 1 {
		t.Errorf("expected ErrHW=1, got %d", result.ErrHW)
	}
	if len(result.Ready) != 0 {
		t.Errorf("expected 0 ready files, got %d", len(result.Ready))
	}
}

func TestScanCleanErrorsReclassifiesReady(t *testing.T) {
	dir := t.TempDir()
	inputRoot := filepath.Join(dir, "in")
	outputRoot := filepath.Join(dir, "in_out")

	writeFile(t, filepath.Join(inputRoot, "a.mov"), 200)

	store := markerstore.New()
	out, _ := filepath.Abs(filepath.Join(outputRoot, "a.mp4"))
	if err := store.RecordFailure(out, "encoder exited with code 1"); err != nil {
		t.Fatal(err)
	}

	opts := baseOpts(inputRoot, outputRoot)
	opts.CleanErrors = true
	result, err := Scan(opts, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.ErrGeneral != 0 {
		t.Errorf("expected ErrGeneral=0 with clean_errors, got %d", result.ErrGeneral)
	}
	if len(result.Ready) != 1 {
		t.Errorf("expected 1 ready file after clean_errors reclassification, got %d", len(result.Ready))
	}
	if _, statErr := os.Stat(out + markerstore.ErrSuffix); !os.IsNotExist(statErr) {
		t.Error("expected .err marker to be deleted under clean_errors")
	}
}

func TestScanRespectsMaxDepth(t *testing.T) {
	dir := t.TempDir()
	inputRoot := filepath.Join(dir, "in")
	outputRoot := filepath.Join(dir, "in_out")

	writeFile(t, filepath.Join(inputRoot, "l1", "l2", "l3", "deep.mov"), 200)
	writeFile(t, filepath.Join(inputRoot, "l1", "l2", "l3", "l4", "toodeep.mov"), 200)

	opts := baseOpts(inputRoot, outputRoot)
	opts.MaxDepth = 3

	store := markerstore.New()
	result, err := Scan(opts, store, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Ready) != 1 {
		t.Fatalf("expected exactly 1 file within max depth, got %d", len(result.Ready))
	}
	if filepath.Base(result.Ready[0].Path) != "deep.mov" {
		t.Errorf("expected deep.mov, got %s", result.Ready[0].Path)
	}
}
