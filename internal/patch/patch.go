// Package patch rewrites the runpath of deployed ELF files so they find
// their libraries relative to $ORIGIN, and writes the qt.conf that
// points Qt at the deployed layout. Runpath editing shells out to
// patchelf.
package patch

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"gopkg.in/ini.v1"

	"github.com/probonopd/go-qtdeploy/internal/helpers"
	"github.com/probonopd/go-qtdeploy/internal/install"
	"github.com/probonopd/go-qtdeploy/internal/plan"
)

// PatchError wraps a failed patchelf invocation with its output.
type PatchError struct {
	Path   string
	Output string
	Err    error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("patchelf %s: %v: %s", e.Path, e.Err, e.Output)
}

func (e *PatchError) Unwrap() error { return e.Err }

// Available reports whether patchelf can be invoked.
func Available() bool {
	return helpers.IsCommandAvailable("patchelf")
}

// RunpathToken returns the $ORIGIN-relative runpath for an ELF in dir
// whose libraries live in libDir. The result never mentions an absolute
// build machine path.
func RunpathToken(dir, libDir string) string {
	rel, err := filepath.Rel(dir, libDir)
	if err != nil || rel == "." {
		return "$ORIGIN"
	}
	return "$ORIGIN/" + filepath.ToSlash(rel)
}

// SetRunpath rewrites the runpath of the file using patchelf. With
// dryRun the invocation is logged but not executed.
func SetRunpath(file, runpath string, dryRun bool, verbosity int) error {
	helpers.Logf(verbosity, 2, "patchelf --set-rpath %s %s", runpath, file)
	if dryRun {
		return nil
	}
	cmd := exec.Command("patchelf", "--set-rpath", runpath, file)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &PatchError{Path: file, Output: string(out), Err: err}
	}
	return nil
}

// Apply patches every deployed ELF in the plan: the flat entries marked
// for patching, plus any ELF found inside deployed QML module trees.
// Entries the installer kept untouched or failed to place are skipped;
// a kept file must stay byte-identical and a failed one is not there to
// patch. Failures are collected per file; one unpatched binary must not
// stop the others.
func Apply(p *plan.Plan, rep *install.Report, dryRun bool, verbosity int) []error {
	outcome := make(map[string]install.Action)
	if rep != nil {
		for _, res := range rep.Results {
			outcome[res.Dest] = res.Action
		}
	}

	var errs []error
	for _, entry := range p.Entries {
		switch outcome[entry.Dest] {
		case install.ActionKept, install.ActionFailed:
			continue
		}
		if entry.NeedsPatch {
			runpath := RunpathToken(filepath.Dir(entry.Dest), p.Out.LibDir)
			if err := SetRunpath(entry.Dest, runpath, dryRun, verbosity); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if entry.Node.IsDir {
			errs = append(errs, patchTree(entry, p.Out.LibDir, dryRun, verbosity)...)
		}
	}
	return errs
}

// patchTree walks a deployed directory for ELF files. During a dry run
// the destination tree does not exist, so the source tree is walked and
// the destination paths are derived from it.
func patchTree(entry plan.Entry, libDir string, dryRun bool, verbosity int) []error {
	root := entry.Dest
	mapBack := func(path string) string { return path }
	if dryRun && helpers.IsDirectory(root) == false {
		root = entry.Node.Path
		mapBack = func(path string) string {
			rel, err := filepath.Rel(entry.Node.Path, path)
			if err != nil {
				return path
			}
			return filepath.Join(entry.Dest, rel)
		}
	}

	var errs []error
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if helpers.IsELF(path) == false {
			return nil
		}
		dest := mapBack(path)
		runpath := RunpathToken(filepath.Dir(dest), libDir)
		if err := SetRunpath(dest, runpath, dryRun, verbosity); err != nil {
			errs = append(errs, err)
		}
		return nil
	})
	return errs
}

// WriteQtConf writes the qt.conf next to the deployed executables so Qt
// looks up plugins, QML modules, translations and data in the deployed
// layout instead of the build machine's.
func WriteQtConf(p *plan.Plan, force, dryRun bool, verbosity int) error {
	path := filepath.Join(p.Out.ExeDir, "qt.conf")
	if helpers.Exists(path) && force == false {
		helpers.Logf(verbosity, 1, "keeping existing %s", path)
		return nil
	}

	rel := func(dir string) string {
		r, err := filepath.Rel(p.Out.ExeDir, dir)
		if err != nil {
			return dir
		}
		return filepath.ToSlash(r)
	}

	cfg := ini.Empty()
	ini.PrettyFormat = false
	section, err := cfg.NewSection("Paths")
	if err != nil {
		return err
	}
	section.NewKey("Plugins", rel(p.Out.PluginsDir))
	section.NewKey("Imports", rel(p.Out.QmlDir))
	section.NewKey("Qml2Imports", rel(p.Out.QmlDir))
	section.NewKey("Data", rel(p.Out.DataDir))
	section.NewKey("Translations", rel(p.Out.TranslationsDir))

	helpers.Logf(verbosity, 2, "writing %s", path)
	if dryRun {
		return nil
	}
	if err := os.MkdirAll(p.Out.ExeDir, 0755); err != nil {
		return err
	}
	return cfg.SaveTo(path)
}
