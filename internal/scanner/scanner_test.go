//go:build unix

package scanner

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"filmdupe/internal/config"
)

// =============================================================================
// Section 2.1: Critical Bug Tests (P0) - Invalid Glob Patterns
// =============================================================================

// TestInvalidGlobPatternUnclosedBracket tests that unclosed bracket patterns
// are handled gracefully by the scanner when called directly.
// Note: CLI validates patterns via validateGlobPatterns() before calling scanner.
// This test verifies scanner doesn't crash on invalid patterns if passed directly.
func TestInvalidGlobPatternUnclosedBracket(t *testing.T) {
	root := t.TempDir()

	createFile(t, filepath.Join(root, "file.txt"), 100)
	createFile(t, filepath.Join(root, "[bracket.txt"), 100)

	s := New([]string{root}, 0, []string{"[invalid"}, 2, 0, config.ArtifactSkip, false, nil)
	files := s.Run()

	if len(files) != 2 {
		t.Errorf("expected 2 files (invalid pattern skipped), got %d", len(files))
	}
}

// TestInvalidGlobPatternTripleAsterisk tests that *** pattern excludes all files.
func TestInvalidGlobPatternTripleAsterisk(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "file.txt"), 100)

	s := New([]string{root}, 0, []string{"***"}, 2, 0, config.ArtifactSkip, false, nil)
	files := s.Run()

	if len(files) != 0 {
		t.Errorf("expected 0 files (*** excludes all), got %d", len(files))
	}
}

// =============================================================================
// Section 3.1: Core Scanner Tests
// =============================================================================

func TestListDirectoryBasic(t *testing.T) {
	root := t.TempDir()

	createFile(t, filepath.Join(root, "file1.txt"), 100)
	createFile(t, filepath.Join(root, "file2.txt"), 200)
	if err := os.Mkdir(filepath.Join(root, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}
	createFile(t, filepath.Join(root, "subdir", "file3.txt"), 300)

	s := New([]string{root}, 0, nil, 2, 0, config.ArtifactSkip, false, nil)
	files := s.Run()

	if len(files) != 3 {
		t.Errorf("expected 3 files, got %d", len(files))
	}

	sizes := make(map[int64]bool)
	for _, f := range files {
		sizes[f.Size] = true
	}
	for _, expected := range []int64{100, 200, 300} {
		if !sizes[expected] {
			t.Errorf("missing file with size %d", expected)
		}
	}
}

func TestSizeFilteringZeroBytes(t *testing.T) {
	root := t.TempDir()

	createFile(t, filepath.Join(root, "empty.txt"), 0)
	createFile(t, filepath.Join(root, "small.txt"), 1)
	createFile(t, filepath.Join(root, "normal.txt"), 100)

	s := New([]string{root}, 0, nil, 2, 0, config.ArtifactSkip, false, nil)
	files := s.Run()
	if len(files) != 3 {
		t.Errorf("minSize=0: expected 3 files, got %d", len(files))
	}

	s = New([]string{root}, 1, nil, 2, 0, config.ArtifactSkip, false, nil)
	files = s.Run()
	if len(files) != 2 {
		t.Errorf("minSize=1: expected 2 files, got %d", len(files))
	}

	s = New([]string{root}, 100, nil, 2, 0, config.ArtifactSkip, false, nil)
	files = s.Run()
	if len(files) != 1 {
		t.Errorf("minSize=100: expected 1 file, got %d", len(files))
	}
}

func TestSizeFilteringBoundaryValues(t *testing.T) {
	root := t.TempDir()

	createFile(t, filepath.Join(root, "size99.txt"), 99)
	createFile(t, filepath.Join(root, "size100.txt"), 100)
	createFile(t, filepath.Join(root, "size101.txt"), 101)

	s := New([]string{root}, 100, nil, 2, 0, config.ArtifactSkip, false, nil)
	files := s.Run()
	if len(files) != 2 {
		t.Errorf("expected 2 files (>=100), got %d", len(files))
	}
}

func TestGlobPatternExclusion(t *testing.T) {
	root := t.TempDir()

	createFile(t, filepath.Join(root, "keep.txt"), 100)
	createFile(t, filepath.Join(root, "exclude.bak"), 100)
	createFile(t, filepath.Join(root, "exclude.old"), 100)

	s := New([]string{root}, 0, []string{"*.bak", "*.old"}, 2, 0, config.ArtifactSkip, false, nil)
	files := s.Run()

	if len(files) != 1 {
		t.Errorf("expected 1 file, got %d", len(files))
	}
	if len(files) > 0 && filepath.Base(files[0].Path) != "keep.txt" {
		t.Errorf("wrong file kept: %s", files[0].Path)
	}
}

func TestDirectoryExclusionGit(t *testing.T) {
	root := t.TempDir()

	createFile(t, filepath.Join(root, "main.go"), 100)

	gitDir := filepath.Join(root, ".git")
	if err := os.Mkdir(gitDir, 0o755); err != nil {
		t.Fatal(err)
	}
	createFile(t, filepath.Join(gitDir, "config"), 50)
	createFile(t, filepath.Join(gitDir, "HEAD"), 30)

	objectsDir := filepath.Join(gitDir, "objects")
	if err := os.Mkdir(objectsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	createFile(t, filepath.Join(objectsDir, "pack"), 200)

	s := New([]string{root}, 0, []string{".git"}, 2, 0, config.ArtifactSkip, false, nil)
	files := s.Run()

	if len(files) != 1 {
		t.Errorf("expected 1 file (main.go only), got %d", len(files))
		for _, f := range files {
			t.Logf("  found: %s", f.Path)
		}
	}
	if len(files) > 0 && filepath.Base(files[0].Path) != "main.go" {
		t.Errorf("expected main.go, got %s", files[0].Path)
	}
}

func TestPermissionErrorHandling(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("skipping permission test when running as root")
	}

	root := t.TempDir()

	createFile(t, filepath.Join(root, "accessible.txt"), 100)

	unreadable := filepath.Join(root, "unreadable")
	if err := os.Mkdir(unreadable, 0o000); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chmod(unreadable, 0o755) }()

	errCh := make(chan error, 10)
	s := New([]string{root}, 0, nil, 2, 0, config.ArtifactSkip, false, errCh)
	files := s.Run()
	close(errCh)

	if len(files) != 1 {
		t.Errorf("expected 1 file, got %d", len(files))
	}

	var errCount int
	for range errCh {
		errCount++
	}
	if errCount == 0 {
		t.Error("expected permission error to be reported")
	}
}

// =============================================================================
// Section 3.2: Scanner Filesystem Edge Cases
// =============================================================================

func TestZeroBytesFilesHandling(t *testing.T) {
	root := t.TempDir()

	createFile(t, filepath.Join(root, "empty1.txt"), 0)
	createFile(t, filepath.Join(root, "empty2.txt"), 0)

	s := New([]string{root}, 0, nil, 2, 0, config.ArtifactSkip, false, nil)
	files := s.Run()

	if len(files) != 2 {
		t.Errorf("expected 2 zero-byte files, got %d", len(files))
	}
	for _, f := range files {
		if f.Size != 0 {
			t.Errorf("expected size 0, got %d", f.Size)
		}
	}
}

func TestGlobPatternMatchesBasenameOnly(t *testing.T) {
	root := t.TempDir()

	keepDir := filepath.Join(root, "keepdir")
	if err := os.Mkdir(keepDir, 0o755); err != nil {
		t.Fatal(err)
	}
	createFile(t, filepath.Join(keepDir, "keep.txt"), 100)

	excludeDir := filepath.Join(root, "skipme")
	if err := os.Mkdir(excludeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	createFile(t, filepath.Join(excludeDir, "hidden.txt"), 100)

	createFile(t, filepath.Join(keepDir, "skipme"), 100)

	s := New([]string{root}, 0, []string{"skipme"}, 2, 0, config.ArtifactSkip, false, nil)
	files := s.Run()

	if len(files) != 1 {
		t.Errorf("expected 1 file (keep.txt), got %d", len(files))
		for _, f := range files {
			t.Logf("  found: %s", f.Path)
		}
	}
	if len(files) > 0 && filepath.Base(files[0].Path) != "keep.txt" {
		t.Errorf("expected keep.txt, got %s", files[0].Path)
	}
}

func TestPathIsFileNotDirectory(t *testing.T) {
	root := t.TempDir()
	filePath := filepath.Join(root, "file.txt")
	createFile(t, filePath, 100)

	errCh := make(chan error, 10)
	s := New([]string{filePath}, 0, nil, 2, 0, config.ArtifactSkip, false, errCh)
	files := s.Run()
	close(errCh)

	if len(files) != 0 {
		t.Errorf("expected 0 files for file path, got %d", len(files))
	}

	var errCount int
	for range errCh {
		errCount++
	}
	if errCount == 0 {
		t.Error("expected error when scanning file path instead of directory")
	}
}

func TestNonExistentPathHandling(t *testing.T) {
	root := t.TempDir()
	nonExistent := filepath.Join(root, "does-not-exist")

	errCh := make(chan error, 10)
	s := New([]string{nonExistent}, 0, nil, 2, 0, config.ArtifactSkip, false, errCh)
	files := s.Run()
	close(errCh)

	if len(files) != 0 {
		t.Errorf("expected 0 files for non-existent path, got %d", len(files))
	}

	var errCount int
	for range errCh {
		errCount++
	}
	if errCount == 0 {
		t.Error("expected error for non-existent path")
	}
}

func TestOverlappingPaths(t *testing.T) {
	root := t.TempDir()

	subdir := filepath.Join(root, "subdir")
	if err := os.Mkdir(subdir, 0o755); err != nil {
		t.Fatal(err)
	}
	createFile(t, filepath.Join(root, "file1.txt"), 100)
	createFile(t, filepath.Join(subdir, "file2.txt"), 100)

	s := New([]string{root, subdir}, 0, nil, 2, 0, config.ArtifactSkip, false, nil)
	files := s.Run()

	if len(files) != 3 {
		t.Errorf("expected 3 file entries (overlapping paths), got %d", len(files))
	}

	inodes := make(map[uint64]bool)
	for _, f := range files {
		inodes[f.Ino] = true
	}
	if len(inodes) != 2 {
		t.Errorf("expected 2 unique inodes, got %d", len(inodes))
	}
}

func TestDuplicatePaths(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "file.txt"), 100)

	s := New([]string{root, root}, 0, nil, 2, 0, config.ArtifactSkip, false, nil)
	files := s.Run()

	if len(files) != 2 {
		t.Errorf("expected 2 file entries (duplicate paths), got %d", len(files))
	}
}

func TestNonRegularFilesSkipped(t *testing.T) {
	root := t.TempDir()

	regularFile := filepath.Join(root, "regular.txt")
	createFile(t, regularFile, 100)

	symlink := filepath.Join(root, "symlink.txt")
	if err := os.Symlink(regularFile, symlink); err != nil {
		t.Fatal(err)
	}

	fifo := filepath.Join(root, "fifo")
	if err := syscall.Mkfifo(fifo, 0o644); err != nil {
		t.Logf("Skipping FIFO test: %v", err)
	}

	s := New([]string{root}, 0, nil, 2, 0, config.ArtifactSkip, false, nil)
	files := s.Run()

	if len(files) != 1 {
		t.Errorf("expected 1 regular file, got %d", len(files))
	}
	if len(files) > 0 && filepath.Base(files[0].Path) != "regular.txt" {
		t.Errorf("expected regular.txt, got %s", files[0].Path)
	}
}

func TestFilenamesWithSpecialChars(t *testing.T) {
	root := t.TempDir()

	specialNames := []string{
		"file with spaces.txt",
		"file\twith\ttabs.txt",
		"unicode_日本語.txt",
		"quotes'and\"double.txt",
	}

	for _, name := range specialNames {
		createFile(t, filepath.Join(root, name), 100)
	}

	s := New([]string{root}, 0, nil, 2, 0, config.ArtifactSkip, false, nil)
	files := s.Run()

	if len(files) != len(specialNames) {
		t.Errorf("expected %d files, got %d", len(specialNames), len(files))
	}
}

// =============================================================================
// Section 3.3: Artifact and Depth-Limit Behavior
// =============================================================================

func TestArtifactModeSkipExcludesInProgressFiles(t *testing.T) {
	root := t.TempDir()

	createFile(t, filepath.Join(root, "finished.mp4"), 100)
	createFile(t, filepath.Join(root, "downloading.mp4.part"), 100)
	createFile(t, filepath.Join(root, "fetching.crdownload"), 100)

	s := New([]string{root}, 0, nil, 2, 0, config.ArtifactSkip, false, nil)
	files := s.Run()

	if len(files) != 1 {
		t.Errorf("expected 1 file (artifacts skipped), got %d", len(files))
	}
	if len(files) > 0 && filepath.Base(files[0].Path) != "finished.mp4" {
		t.Errorf("expected finished.mp4, got %s", files[0].Path)
	}
}

func TestArtifactModeIncludeKeepsInProgressFiles(t *testing.T) {
	root := t.TempDir()

	createFile(t, filepath.Join(root, "finished.mp4"), 100)
	createFile(t, filepath.Join(root, "downloading.mp4.part"), 100)

	s := New([]string{root}, 0, nil, 2, 0, config.ArtifactInclude, false, nil)
	files := s.Run()

	if len(files) != 2 {
		t.Errorf("expected 2 files (artifacts included), got %d", len(files))
	}
}

func TestMaxDepthLimitsRecursion(t *testing.T) {
	root := t.TempDir()

	createFile(t, filepath.Join(root, "top.txt"), 100)
	createFile(t, filepath.Join(root, "a", "depth1.txt"), 100)
	createFile(t, filepath.Join(root, "a", "b", "depth2.txt"), 100)

	s := New([]string{root}, 0, nil, 2, 1, config.ArtifactSkip, false, nil)
	files := s.Run()

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f.Path))
	}
	if len(files) != 2 {
		t.Errorf("expected 2 files within depth 1, got %d: %v", len(files), names)
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func createFile(t *testing.T, path string, size int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	content := make([]byte, size)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}
