// Package resolver computes the transitive closure of shared libraries,
// plugins, QML modules and translations that an application needs at
// runtime, starting from one or more executables.
package resolver

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/probonopd/go-qtdeploy/internal/elfinspect"
	"github.com/probonopd/go-qtdeploy/internal/helpers"
	"github.com/probonopd/go-qtdeploy/internal/qmlscan"
	"github.com/probonopd/go-qtdeploy/internal/sdk"
)

// Config carries the inputs of one resolution run. Verbosity and all
// behavior switches are threaded through explicitly so that Resolve
// stays free of process-global state.
type Config struct {
	Executables  []string
	ScanDirs     []string
	SDK          *sdk.Root
	Affinities   sdk.Affinities // nil selects the default table merged with the module registry
	ExtraPlugins []string       // plugin groups requested explicitly; fatal if absent
	Verbosity    int

	// Inspect may be replaced in tests; nil selects elfinspect.Inspect.
	Inspect func(string) (*elfinspect.Info, error)
}

/*
   ld.so resolves a soname without a slash against, in order, DT_RPATH/
   DT_RUNPATH, LD_LIBRARY_PATH, the ld.so.cache and the default /lib and
   /usr/lib pairs. For deployment only two classes matter: files below
   the SDK root, which get deployed, and everything else, which the
   target system is expected to provide.
*/

var defaultSystemLibDirs = []string{
	"/lib", "/lib64",
	"/usr/lib", "/usr/lib64",
	"/lib/x86_64-linux-gnu", "/usr/lib/x86_64-linux-gnu",
	"/usr/local/lib",
}

// Resolve runs the breadth-first closure computation. Discovery problems
// (unreadable binaries, unresolvable sonames) become warnings on the
// returned graph; only structurally fatal conditions return an error.
func Resolve(cfg Config) (*Graph, error) {
	if cfg.SDK == nil {
		return nil, errors.New("resolver: no SDK root configured")
	}
	inspect := cfg.Inspect
	if inspect == nil {
		inspect = elfinspect.Inspect
	}

	affinities := cfg.Affinities
	if affinities == nil {
		affinities = sdk.DefaultAffinities()
		if modules, err := cfg.SDK.Modules(); err == nil {
			affinities = affinities.MergeRegistry(modules)
		}
	}

	r := &run{
		cfg:     cfg,
		inspect: inspect,
		dg:      NewGraph(),
		libDirs: []string{cfg.SDK.LibDir()},
		visited: make(map[string]bool),
	}

	// Steps 1 and 2: the executables and their library closure
	for _, exe := range cfg.Executables {
		abs, err := filepath.Abs(exe)
		if err != nil {
			return nil, err
		}
		if helpers.Exists(abs) == false {
			return nil, fmt.Errorf("input executable %s does not exist", abs)
		}
		node := Node{Kind: KindExecutable, Path: abs, Name: filepath.Base(abs)}
		r.dg.Add(node)
		r.frontier = append(r.frontier, node)
	}
	r.drain()

	// Step 3: plugins, selected by affinity against the stabilized
	// library set, then folded into the same closure
	if err := r.attachPlugins(affinities); err != nil {
		return nil, err
	}
	r.drain()

	// Step 4: QML modules from the scan directories
	if len(cfg.ScanDirs) > 0 {
		imports, warnings := qmlscan.Scan(cfg.ScanDirs, cfg.SDK, cfg.Verbosity)
		r.dg.Warnings = append(r.dg.Warnings, warnings...)
		for _, imp := range imports {
			node := Node{Kind: KindQmlModule, Path: imp.Path, Name: imp.URI, RelPath: imp.RelPath, IsDir: true}
			r.dg.Add(node)
			if imp.Plugin != "" {
				// The plugin travels inside the module directory, but its
				// ELF dependencies still belong in the closure
				r.fold(node.Path, imp.Plugin)
			}
		}
		r.drain()
	}

	r.attachTranslations()
	r.attachResources()

	return r.dg, nil
}

type run struct {
	cfg      Config
	inspect  func(string) (*elfinspect.Info, error)
	dg       *Graph
	frontier []Node
	visited  map[string]bool
	libDirs  []string // SDK-internal search directories, lib dir first
	sysDirs  []string
}

// drain processes the frontier until the closure stabilizes. Every node
// is inspected exactly once; the visited set keeps mutual library
// dependencies from looping.
func (r *run) drain() {
	for len(r.frontier) > 0 {
		node := r.frontier[0]
		r.frontier = r.frontier[1:]
		if r.visited[node.Path] {
			continue
		}
		r.visited[node.Path] = true

		info, err := r.inspect(node.Path)
		if err != nil {
			r.dg.Warnings = append(r.dg.Warnings, err)
			helpers.Logf(r.cfg.Verbosity, 1, "skipping %s: %v", node.Path, err)
			continue
		}

		// Pre-existing search path entries may point at further SDK
		// directories worth searching
		for _, dir := range info.SearchPaths {
			if r.cfg.SDK.Contains(dir) {
				r.libDirs = helpers.AppendIfMissing(r.libDirs, dir)
			}
		}

		for _, soname := range info.DirectDeps {
			r.need(node.Path, soname)
		}
	}
}

// need resolves one soname on behalf of the node at from and folds the
// result into the graph.
func (r *run) need(from, soname string) {
	if path, ok := r.findInSDK(soname); ok {
		dep := Node{Kind: KindLibrary, Path: path, Name: soname}
		if r.dg.Add(dep) {
			helpers.Logf(r.cfg.Verbosity, 2, "library %s -> %s", soname, path)
			r.frontier = append(r.frontier, dep)
		}
		r.dg.addEdge(from, dep.Path)
		return
	}
	if r.findInSystem(soname) {
		r.dg.External = helpers.AppendIfMissing(r.dg.External, soname)
		return
	}
	r.dg.Warnings = append(r.dg.Warnings, &UnresolvedDependencyError{Soname: soname, RequiredBy: from})
}

// fold inspects an ELF that is deployed as part of a directory node and
// links its SDK dependencies to that node.
func (r *run) fold(owner, elfPath string) {
	info, err := r.inspect(elfPath)
	if err != nil {
		r.dg.Warnings = append(r.dg.Warnings, err)
		return
	}
	for _, soname := range info.DirectDeps {
		r.need(owner, soname)
	}
}

func (r *run) findInSDK(soname string) (string, bool) {
	for _, dir := range r.libDirs {
		path := filepath.Join(dir, soname)
		if helpers.Exists(path) {
			return path, true
		}
	}
	return "", false
}

func (r *run) findInSystem(soname string) bool {
	if r.sysDirs == nil {
		r.sysDirs = systemLibraryDirs()
	}
	for _, dir := range r.sysDirs {
		if helpers.Exists(filepath.Join(dir, soname)) {
			return true
		}
	}
	return false
}

// attachPlugins applies the affinity rules against the full set of
// required libraries, then adds explicitly requested plugin groups. Each
// added plugin is enqueued so its own dependencies join the closure.
func (r *run) attachPlugins(affinities sdk.Affinities) error {
	catalog, err := r.cfg.SDK.PluginCatalog()
	if err != nil {
		// No plugins directory at all; only explicit requests are fatal
		if len(r.cfg.ExtraPlugins) > 0 {
			return &MissingArtifactError{Kind: "plugin group", Name: r.cfg.ExtraPlugins[0]}
		}
		return nil
	}

	var groups []string
	triggeredBy := make(map[string]string)
	for _, node := range r.dg.Nodes() {
		if node.Kind != KindLibrary && node.Kind != KindExecutable {
			continue
		}
		for _, group := range affinities.Groups(node.Name) {
			groups = helpers.AppendIfMissing(groups, group)
			if _, ok := triggeredBy[group]; ok == false {
				triggeredBy[group] = node.Path
			}
		}
	}

	for _, group := range r.cfg.ExtraPlugins {
		if sdk.HasGroup(catalog, group) == false {
			return &MissingArtifactError{Kind: "plugin group", Name: group}
		}
		groups = helpers.AppendIfMissing(groups, group)
	}

	for _, group := range groups {
		var members []sdk.Plugin
		for _, plugin := range catalog {
			if plugin.Group == group {
				members = append(members, plugin)
			}
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Soname < members[j].Soname })
		for _, plugin := range members {
			node := Node{Kind: KindPlugin, Path: plugin.Path, Name: plugin.Soname, Group: plugin.Group}
			if r.dg.Add(node) {
				helpers.Logf(r.cfg.Verbosity, 2, "plugin %s (%s)", plugin.Soname, plugin.Group)
				r.frontier = append(r.frontier, node)
			}
			if from, ok := triggeredBy[group]; ok {
				r.dg.addEdge(from, node.Path)
			}
		}
	}
	return nil
}

// attachTranslations adds the .qm catalogs for every deployed Qt module.
// WebEngine additionally needs its locale bundle and the out-of-process
// renderer, which is an executable with dependencies of its own, so the
// pass repeats until the graph stops growing.
func (r *run) attachTranslations() {
	for {
		before := r.dg.Len()
		r.translationPass()
		r.drain()
		if r.dg.Len() == before {
			return
		}
	}
}

func (r *run) translationPass() {
	for _, node := range r.dg.Nodes() {
		if node.Kind != KindLibrary {
			continue
		}
		module := sdk.LibraryModuleName(node.Name)
		if module == "" {
			continue
		}
		for _, qm := range r.cfg.SDK.TranslationFiles(module) {
			tr := Node{Kind: KindTranslation, Path: qm, Name: filepath.Base(qm)}
			r.dg.Add(tr)
			r.dg.addEdge(node.Path, tr.Path)
		}
		if strings.Contains(module, "WebEngine") {
			locales := filepath.Join(r.cfg.SDK.TranslationsDir(), "qtwebengine_locales")
			if helpers.IsDirectory(locales) {
				tr := Node{Kind: KindTranslation, Path: locales, Name: "qtwebengine_locales", IsDir: true}
				r.dg.Add(tr)
				r.dg.addEdge(node.Path, tr.Path)
			}
			process := filepath.Join(r.cfg.SDK.LibexecDir(), "QtWebEngineProcess")
			if helpers.Exists(process) {
				exe := Node{Kind: KindExecutable, Path: process, Name: "QtWebEngineProcess"}
				if r.dg.Add(exe) {
					r.frontier = append(r.frontier, exe)
				}
				r.dg.addEdge(node.Path, process)
			}
		}
	}
}

// attachResources deploys the SDK's shared resources directory once any
// Qt library is in the closure.
func (r *run) attachResources() {
	resources := r.cfg.SDK.ResourcesDir()
	if helpers.IsDirectory(resources) == false {
		return
	}
	for _, node := range r.dg.Nodes() {
		if node.Kind != KindLibrary {
			continue
		}
		if strings.HasPrefix(sdk.LibraryModuleName(node.Name), "Qt") {
			r.dg.Add(Node{Kind: KindData, Path: resources, Name: "resources", IsDir: true})
			return
		}
	}
}

// systemLibraryDirs returns the directories in which the target system
// is expected to find libraries: the glibc defaults plus whatever
// /etc/ld.so.conf and its includes declare.
func systemLibraryDirs() []string {
	dirs := append([]string(nil), defaultSystemLibDirs...)
	if helpers.Exists("/etc/ld.so.conf") {
		for _, dir := range dirsFromSoConf("/etc/ld.so.conf") {
			dirs = helpers.AppendIfMissing(dirs, filepath.Clean(dir))
		}
	}
	return dirs
}

func isBlank(c rune) bool {
	return c == ' ' || c == '\t'
}

// dirsFromSoConf returns the directories specified in the ld config file
// at path and in its included config files.
func dirsFromSoConf(path string) []string {
	var out []string
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		} else if strings.HasPrefix(line, "include") && len(line) > 8 && isBlank(rune(line[7])) {
			for _, pattern := range strings.FieldsFunc(line[8:], isBlank) {
				if pattern[0] != '/' {
					pattern = filepath.Dir(path) + "/" + pattern
				}
				files, err := filepath.Glob(pattern)
				if err != nil {
					return out
				}
				for _, file := range files {
					out = append(out, dirsFromSoConf(file)...)
				}
			}
			continue
		} else if strings.HasPrefix(line, "hwcap") && len(line) > 5 && isBlank(rune(line[5])) {
			// hwcap directives are ignored by glibc as well
			continue
		}
		out = append(out, strings.TrimSpace(line))
	}
	return out
}
