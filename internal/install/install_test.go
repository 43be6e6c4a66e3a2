package install_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/probonopd/go-qtdeploy/internal/install"
	"github.com/probonopd/go-qtdeploy/internal/plan"
	"github.com/probonopd/go-qtdeploy/internal/resolver"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func singleFilePlan(t *testing.T, src, dest string) *plan.Plan {
	t.Helper()
	return &plan.Plan{Entries: []plan.Entry{{
		Node: resolver.Node{Kind: resolver.KindLibrary, Path: src, Name: filepath.Base(src)},
		Dest: dest,
	}}}
}

func TestInstallDeploysMissingFile(t *testing.T) {
	src := writeFile(t, t.TempDir(), "libFoo.so", "lib")
	dest := filepath.Join(t.TempDir(), "out", "libFoo.so")

	rep := install.Install(singleFilePlan(t, src, dest), install.Options{})
	if rep.Deployed != 1 || rep.Failed != 0 {
		t.Fatalf("Unexpected report: %+v", rep)
	}
	got, err := os.ReadFile(dest)
	if err != nil || string(got) != "lib" {
		t.Errorf("Destination not written: %q, %v", got, err)
	}
}

func TestInstallKeepsDifferingFileWithoutForce(t *testing.T) {
	src := writeFile(t, t.TempDir(), "libFoo.so", "new")
	dest := writeFile(t, t.TempDir(), "libFoo.so", "old")

	rep := install.Install(singleFilePlan(t, src, dest), install.Options{})
	if rep.Skipped != 1 || rep.Deployed != 0 {
		t.Fatalf("Unexpected report: %+v", rep)
	}
	if rep.Results[0].Action != install.ActionKept {
		t.Errorf("Expected kept, got %s", rep.Results[0].Action)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "old" {
		t.Errorf("Destination was overwritten without --force: %q", got)
	}
}

func TestInstallForceOverwrites(t *testing.T) {
	src := writeFile(t, t.TempDir(), "libFoo.so", "new")
	dest := writeFile(t, t.TempDir(), "libFoo.so", "old")

	rep := install.Install(singleFilePlan(t, src, dest), install.Options{Force: true})
	if rep.Deployed != 1 {
		t.Fatalf("Unexpected report: %+v", rep)
	}
	if rep.Results[0].Action != install.ActionOverwrite {
		t.Errorf("Expected overwrite, got %s", rep.Results[0].Action)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "new" {
		t.Errorf("Destination not replaced: %q", got)
	}
}

func TestInstallUpToDateIsIdempotent(t *testing.T) {
	src := writeFile(t, t.TempDir(), "libFoo.so", "same")
	dest := writeFile(t, t.TempDir(), "libFoo.so", "same")

	rep := install.Install(singleFilePlan(t, src, dest), install.Options{})
	if rep.Results[0].Action != install.ActionUpToDate {
		t.Errorf("Matching destination not recognized: %s", rep.Results[0].Action)
	}
}

func TestInstallDryRunWritesNothing(t *testing.T) {
	src := writeFile(t, t.TempDir(), "libFoo.so", "lib")
	dest := filepath.Join(t.TempDir(), "out", "libFoo.so")

	rep := install.Install(singleFilePlan(t, src, dest), install.Options{DryRun: true})
	if rep.Deployed != 1 {
		t.Fatalf("Dry run should report the same decisions: %+v", rep)
	}
	if _, err := os.Stat(dest); os.IsNotExist(err) == false {
		t.Error("Dry run touched the filesystem")
	}
}

func TestInstallDirectoryDeep(t *testing.T) {
	srcRoot := t.TempDir()
	qml := filepath.Join(srcRoot, "QtQuick")
	writeFile(t, qml, "qmldir", "module QtQuick")
	writeFile(t, qml, "libqtquickplugin.so", "plugin")
	writeFile(t, qml, "libqtquickplugin.so.debug", "debug info")
	link := filepath.Join(qml, "alias.so")
	if err := os.Symlink(filepath.Join(qml, "libqtquickplugin.so"), link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "QtQuick")
	p := &plan.Plan{Entries: []plan.Entry{{
		Node: resolver.Node{Kind: resolver.KindQmlModule, Path: qml, Name: "QtQuick", RelPath: "QtQuick", IsDir: true},
		Dest: dest,
	}}}

	rep := install.Install(p, install.Options{})
	if rep.Failed != 0 {
		t.Fatalf("Unexpected failures: %+v", rep.Results)
	}
	if _, err := os.Stat(filepath.Join(dest, "qmldir")); err != nil {
		t.Errorf("Directory content missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "libqtquickplugin.so.debug")); err == nil {
		t.Error("Detached debug info was deployed")
	}
	info, err := os.Lstat(filepath.Join(dest, "alias.so"))
	if err != nil {
		t.Fatalf("Symlinked file missing: %v", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Error("Symlink was not resolved to a regular file")
	}
}

func TestInstallInPlaceEntryIsNotCopied(t *testing.T) {
	exe := writeFile(t, t.TempDir(), "app", "exe")
	before, err := os.Stat(exe)
	if err != nil {
		t.Fatal(err)
	}

	p := &plan.Plan{Entries: []plan.Entry{{
		Node:    resolver.Node{Kind: resolver.KindExecutable, Path: exe, Name: "app"},
		Dest:    exe,
		InPlace: true,
	}}}

	rep := install.Install(p, install.Options{})
	if rep.Skipped != 1 || rep.Deployed != 0 || rep.Failed != 0 {
		t.Fatalf("Unexpected report: %+v", rep)
	}
	if rep.Results[0].Action != install.ActionInPlace {
		t.Errorf("Expected in-place, got %s", rep.Results[0].Action)
	}
	after, err := os.Stat(exe)
	if err != nil {
		t.Fatal(err)
	}
	if after.ModTime() != before.ModTime() || after.Size() != before.Size() {
		t.Error("In-place file was touched")
	}
}

func TestInstallRecordsFailureAndContinues(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone.so")
	ok := writeFile(t, t.TempDir(), "libFoo.so", "lib")
	out := t.TempDir()

	p := &plan.Plan{Entries: []plan.Entry{
		{
			Node: resolver.Node{Kind: resolver.KindLibrary, Path: missing, Name: "gone.so"},
			Dest: filepath.Join(out, "gone.so"),
		},
		{
			Node: resolver.Node{Kind: resolver.KindLibrary, Path: ok, Name: "libFoo.so"},
			Dest: filepath.Join(out, "libFoo.so"),
		},
	}}

	rep := install.Install(p, install.Options{})
	if rep.Failed != 1 || rep.Deployed != 1 {
		t.Fatalf("Run did not continue past the failure: %+v", rep)
	}
	if rep.CriticalFailure == false {
		t.Error("Failed library not flagged as critical")
	}
}
