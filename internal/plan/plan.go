// Package plan maps a resolved dependency graph onto a target directory
// layout. It decides destinations only; nothing is copied here.
package plan

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/probonopd/go-qtdeploy/internal/helpers"
	"github.com/probonopd/go-qtdeploy/internal/resolver"
)

// SkipFlags turns off whole categories of the deployment.
type SkipFlags struct {
	Conf         bool
	Exe          bool
	Lib          bool
	Plugins      bool
	Qml          bool
	Data         bool
	Translations bool
}

// OutputConfig holds the target directories. Unset directories are
// derived in ApplyDefaults; all paths end up absolute.
type OutputConfig struct {
	Dir             string
	ExeDir          string
	LibDir          string
	PluginsDir      string
	QmlDir          string
	DataDir         string
	TranslationsDir string
	Skip            SkipFlags
}

// ApplyDefaults fills unset directories. The base directory defaults to
// the directory of the first input executable, every category directory
// defaults to the base, and translations get their own subdirectory.
func (o *OutputConfig) ApplyDefaults(firstExecutable string) error {
	if o.Dir == "" {
		abs, err := filepath.Abs(firstExecutable)
		if err != nil {
			return err
		}
		o.Dir = filepath.Dir(abs)
	} else {
		abs, err := filepath.Abs(o.Dir)
		if err != nil {
			return err
		}
		o.Dir = abs
	}
	def := func(dir *string, fallback string) error {
		if *dir == "" {
			*dir = fallback
			return nil
		}
		abs, err := filepath.Abs(*dir)
		*dir = abs
		return err
	}
	if err := def(&o.ExeDir, o.Dir); err != nil {
		return err
	}
	if err := def(&o.LibDir, o.Dir); err != nil {
		return err
	}
	if err := def(&o.PluginsDir, o.Dir); err != nil {
		return err
	}
	if err := def(&o.QmlDir, o.Dir); err != nil {
		return err
	}
	if err := def(&o.DataDir, o.Dir); err != nil {
		return err
	}
	return def(&o.TranslationsDir, filepath.Join(o.Dir, "translations"))
}

// Entry is one planned copy. NeedsPatch marks ELF files whose runpath
// will be rewritten after installation. InPlace marks files whose
// source already is the destination; nothing is copied for them, but
// they still get their runpath rewritten.
type Entry struct {
	Node       resolver.Node
	Dest       string
	NeedsPatch bool
	InPlace    bool
}

// Plan is the complete, collision-checked target layout.
type Plan struct {
	Entries []Entry
	Out     OutputConfig
}

// CollisionError reports two different files claiming the same
// destination path.
type CollisionError struct {
	Dest   string
	First  string
	Second string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("both %s and %s would be deployed to %s", e.First, e.Second, e.Dest)
}

// BuildPlan maps every graph node to its destination. Two sources that
// map to the same destination are fatal unless they are byte-identical
// files, in which case the second one is dropped. Entries whose source
// already is the destination stay in the plan so their runpath still
// gets rewritten; only the copy is skipped.
func BuildPlan(g *resolver.Graph, out OutputConfig) (*Plan, error) {
	p := &Plan{Out: out}
	claimed := make(map[string]resolver.Node)

	for _, node := range g.Nodes() {
		dest, ok := destFor(node, out)
		if ok == false {
			continue
		}
		if prev, taken := claimed[dest]; taken {
			if sameContent(prev, node) {
				continue
			}
			return nil, &CollisionError{Dest: dest, First: prev.Path, Second: node.Path}
		}
		claimed[dest] = node
		p.Entries = append(p.Entries, Entry{
			Node:       node,
			Dest:       dest,
			NeedsPatch: needsPatch(node),
			InPlace:    filepath.Clean(node.Path) == filepath.Clean(dest),
		})
	}

	sort.Slice(p.Entries, func(i, j int) bool { return p.Entries[i].Dest < p.Entries[j].Dest })
	return p, nil
}

func destFor(node resolver.Node, out OutputConfig) (string, bool) {
	switch node.Kind {
	case resolver.KindExecutable:
		if out.Skip.Exe {
			return "", false
		}
		return filepath.Join(out.ExeDir, node.Name), true
	case resolver.KindLibrary:
		if out.Skip.Lib {
			return "", false
		}
		return filepath.Join(out.LibDir, node.Name), true
	case resolver.KindPlugin:
		if out.Skip.Plugins {
			return "", false
		}
		return filepath.Join(out.PluginsDir, node.Group, node.Name), true
	case resolver.KindQmlModule:
		if out.Skip.Qml {
			return "", false
		}
		return filepath.Join(out.QmlDir, node.RelPath), true
	case resolver.KindTranslation:
		if out.Skip.Translations {
			return "", false
		}
		return filepath.Join(out.TranslationsDir, node.Name), true
	case resolver.KindData:
		if out.Skip.Data {
			return "", false
		}
		return filepath.Join(out.DataDir, node.Name), true
	}
	return "", false
}

func needsPatch(node resolver.Node) bool {
	switch node.Kind {
	case resolver.KindExecutable, resolver.KindLibrary, resolver.KindPlugin:
		return true
	}
	return false
}

// sameContent reports whether two claimed sources may share a
// destination. Directories never may; files may when their digests
// match.
func sameContent(a, b resolver.Node) bool {
	if a.IsDir || b.IsDir {
		return false
	}
	da, err := helpers.CalculateSHA256Digest(a.Path)
	if err != nil {
		return false
	}
	db, err := helpers.CalculateSHA256Digest(b.Path)
	if err != nil {
		return false
	}
	return da == db
}
