package scratch

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateDirRemovedOnceAllFilesReleased(t *testing.T) {
	base := t.TempDir()
	root, err := OpenOrCreate(base, nil)
	if err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}

	dir, err := root.CreateDir("abc")
	if err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	dirPath := dir.Path()
	if _, err := os.Stat(dirPath); err != nil {
		t.Fatalf("expected dir to exist: %v", err)
	}

	write(t, filepath.Join(dirPath, "a.bin"))
	write(t, filepath.Join(dirPath, "b.bin"))

	fa, err := dir.ClaimFile("a.bin")
	if err != nil {
		t.Fatalf("ClaimFile a: %v", err)
	}
	fb, err := dir.ClaimFile("b.bin")
	if err != nil {
		t.Fatalf("ClaimFile b: %v", err)
	}
	dir.Release()

	if _, err := os.Stat(dirPath); err != nil {
		t.Fatalf("dir should still exist with files outstanding: %v", err)
	}

	if err := fa.Close(); err != nil {
		t.Fatalf("close a: %v", err)
	}
	if _, err := os.Stat(dirPath); err != nil {
		t.Fatalf("dir should still exist with one file outstanding: %v", err)
	}
	if _, err := os.Stat(fa.Path()); !os.IsNotExist(err) {
		t.Fatalf("expected file a removed, stat err = %v", err)
	}

	if err := fb.Close(); err != nil {
		t.Fatalf("close b: %v", err)
	}
	if _, err := os.Stat(dirPath); !os.IsNotExist(err) {
		t.Fatalf("expected scratch dir removed after last file released, stat err = %v", err)
	}
}

func TestClaimFileRejectsEscape(t *testing.T) {
	base := t.TempDir()
	root, err := OpenOrCreate(base, nil)
	if err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}
	dir, err := root.CreateDir("abc")
	if err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	defer dir.Release()

	for _, name := range []string{"../escape", "/etc/passwd", "../../x"} {
		if _, err := dir.ClaimFile(name); err == nil {
			t.Fatalf("expected ClaimFile(%q) to fail", name)
		}
	}
}

func TestDoubleCloseIsSafe(t *testing.T) {
	base := t.TempDir()
	root, err := OpenOrCreate(base, nil)
	if err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}
	dir, err := root.CreateDir("abc")
	if err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	write(t, filepath.Join(dir.Path(), "f.bin"))
	f, err := dir.ClaimFile("f.bin")
	if err != nil {
		t.Fatalf("ClaimFile: %v", err)
	}
	dir.Release()

	if err := f.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got: %v", err)
	}
}

func write(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}
