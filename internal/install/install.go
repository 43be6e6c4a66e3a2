// Package install executes a deployment plan against the filesystem.
// Each entry is handled independently; a failing copy is recorded and
// the run continues with the next entry.
package install

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cp "github.com/otiai10/copy"

	"github.com/probonopd/go-qtdeploy/internal/helpers"
	"github.com/probonopd/go-qtdeploy/internal/plan"
	"github.com/probonopd/go-qtdeploy/internal/resolver"
)

// Options controls how a plan is executed.
type Options struct {
	Force     bool
	DryRun    bool
	Verbosity int
}

// Action describes what happened, or would happen, to one entry.
type Action string

const (
	ActionDeploy    Action = "deploy"     // destination did not exist
	ActionOverwrite Action = "overwrite"  // destination replaced under --force
	ActionUpToDate  Action = "up-to-date" // destination already matches the source
	ActionKept      Action = "kept"       // differing destination left alone
	ActionInPlace   Action = "in-place"   // source already is the destination
	ActionFailed    Action = "failed"
)

// Result is the outcome for a single plan entry.
type Result struct {
	Source string
	Dest   string
	Action Action
	Err    error
}

// Report aggregates the results of one run.
type Report struct {
	Results  []Result
	Deployed int
	Skipped  int
	Failed   int

	// CriticalFailure is set when an executable or library could not be
	// placed, which leaves the deployment unable to start.
	CriticalFailure bool
}

// Install copies every plan entry to its destination. Existing
// destinations are kept unless the contents already match or Force is
// set. With DryRun the same decisions are made but nothing is written.
func Install(p *plan.Plan, opts Options) *Report {
	rep := &Report{}
	for _, entry := range p.Entries {
		res := Result{Source: entry.Node.Path, Dest: entry.Dest}
		if entry.InPlace {
			res.Action = ActionInPlace
		} else {
			res.Action, res.Err = decide(entry, opts.Force)
		}

		if res.Err == nil && opts.DryRun == false {
			switch res.Action {
			case ActionDeploy, ActionOverwrite:
				res.Err = place(entry, res.Action)
			}
		}
		if res.Err != nil {
			res.Action = ActionFailed
		}

		switch res.Action {
		case ActionDeploy, ActionOverwrite:
			rep.Deployed++
			helpers.Logf(opts.Verbosity, 2, "%s %s -> %s", res.Action, res.Source, res.Dest)
		case ActionUpToDate, ActionKept, ActionInPlace:
			rep.Skipped++
			helpers.Logf(opts.Verbosity, 2, "%s %s", res.Action, res.Dest)
		case ActionFailed:
			rep.Failed++
			helpers.PrintError("deploy "+res.Dest, res.Err)
			if critical(entry.Node) {
				rep.CriticalFailure = true
			}
		}
		rep.Results = append(rep.Results, res)
	}
	return rep
}

// decide inspects only the current filesystem state, so a dry run and a
// real run reach the same conclusions.
func decide(entry plan.Entry, force bool) (Action, error) {
	if helpers.Exists(entry.Dest) == false {
		return ActionDeploy, nil
	}
	if entry.Node.IsDir == false {
		same, err := identical(entry.Node.Path, entry.Dest)
		if err != nil {
			return ActionFailed, err
		}
		if same {
			return ActionUpToDate, nil
		}
	}
	if force {
		return ActionOverwrite, nil
	}
	return ActionKept, nil
}

func place(entry plan.Entry, action Action) error {
	if action == ActionOverwrite {
		if err := os.RemoveAll(entry.Dest); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(entry.Dest), 0755); err != nil {
		return err
	}
	if entry.Node.IsDir {
		return copyTree(entry.Node.Path, entry.Dest)
	}
	return helpers.CopyFile(entry.Node.Path, entry.Dest)
}

// copyTree deploys a directory node. Symlinks inside the tree are
// resolved to their targets so the result is self-contained, and
// detached debug info is never shipped.
func copyTree(src, dest string) error {
	return cp.Copy(src, dest, cp.Options{
		OnSymlink: func(string) cp.SymlinkAction { return cp.Deep },
		Skip: func(srcinfo os.FileInfo, src, dest string) (bool, error) {
			return strings.HasSuffix(src, ".debug"), nil
		},
	})
}

func identical(a, b string) (bool, error) {
	ia, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if ia.Size() != ib.Size() {
		return false, nil
	}
	da, err := helpers.CalculateSHA256Digest(a)
	if err != nil {
		return false, err
	}
	db, err := helpers.CalculateSHA256Digest(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}

func critical(node resolver.Node) bool {
	return node.Kind == resolver.KindExecutable || node.Kind == resolver.KindLibrary
}

// Summary renders the counters in one line for the end of a run.
func (rep *Report) Summary() string {
	return fmt.Sprintf("%d deployed, %d skipped, %d failed", rep.Deployed, rep.Skipped, rep.Failed)
}
