// Package qmlscan discovers the QML modules an application imports and
// resolves them against the module registry below the SDK's qml
// directory.
package qmlscan

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/probonopd/go-qtdeploy/internal/helpers"
	"github.com/probonopd/go-qtdeploy/internal/sdk"
)

// ModuleImport is one resolved QML module import.
type ModuleImport struct {
	URI     string
	Version string
	Path    string // installed module directory inside the SDK
	RelPath string // Path relative to the SDK qml root
	Plugin  string // backing plugin library, empty for pure-QML modules
}

var (
	importLine    = regexp.MustCompile(`^\s*import\s+([A-Za-z][A-Za-z0-9_]*(?:\.[A-Za-z][A-Za-z0-9_]*)*)\s*([0-9]+(?:\.[0-9]+)*)?`)
	qmldirPlugin  = regexp.MustCompile(`^(?:optional\s+)?plugin\s+(\S+)`)
	qmldirDepends = regexp.MustCompile(`^depends\s+(\S+)\s*([0-9.]*)`)
)

// Scan walks dirs for QML and JavaScript sources, extracts their module
// import declarations and resolves each import to its installed location,
// including the modules those modules declare as runtime dependencies.
// Files that cannot be read and imports that match no installed module
// are reported as warnings; the scan itself never fails.
func Scan(dirs []string, root *sdk.Root, verbosity int) ([]ModuleImport, []error) {
	requested := make(map[string]string) // URI -> requested version
	var warnings []error

	for _, dir := range dirs {
		filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				warnings = append(warnings, err)
				return nil
			}
			if info.Mode().IsRegular() == false {
				return nil
			}
			switch {
			case strings.HasSuffix(path, ".qml"), strings.HasSuffix(path, ".js"):
				if err := collectImports(path, requested); err != nil {
					warnings = append(warnings, err)
				}
			case filepath.Base(path) == "qmldir":
				// qmldir files next to application modules may declare
				// additional runtime dependency modules
				if _, depends, err := parseQmldir(path); err == nil {
					for _, dep := range depends {
						addRequested(requested, dep.uri, dep.version)
					}
				}
			}
			return nil
		})
	}

	uris := make([]string, 0, len(requested))
	for uri := range requested {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	resolved := make(map[string]bool)
	var imports []ModuleImport
	for _, uri := range uris {
		resolveInto(root, uri, requested[uri], resolved, &imports, &warnings, verbosity)
	}
	return imports, warnings
}

// resolveInto resolves one module URI and, recursively, the modules its
// qmldir declares as dependencies.
func resolveInto(root *sdk.Root, uri, version string, resolved map[string]bool, imports *[]ModuleImport, warnings *[]error, verbosity int) {
	if resolved[uri] {
		return
	}
	resolved[uri] = true

	dir, err := moduleDir(root, uri, version)
	if err != nil {
		*warnings = append(*warnings, err)
		return
	}

	rel, err := filepath.Rel(root.QmlDir(), dir)
	if err != nil {
		*warnings = append(*warnings, err)
		return
	}

	imp := ModuleImport{URI: uri, Version: version, Path: dir, RelPath: rel}

	plugin, depends, err := parseQmldir(filepath.Join(dir, "qmldir"))
	if err == nil {
		if plugin != "" {
			lib := filepath.Join(dir, "lib"+plugin+".so")
			if helpers.Exists(lib) {
				imp.Plugin = lib
			} else {
				*warnings = append(*warnings, fmt.Errorf("qml module %s declares plugin %s but %s does not exist", uri, plugin, lib))
			}
		}
		for _, dep := range depends {
			resolveInto(root, dep.uri, dep.version, resolved, imports, warnings, verbosity)
		}
	}

	helpers.Logf(verbosity, 2, "qml import %s resolved to %s", uri, dir)
	*imports = append(*imports, imp)
}

// moduleDir maps a module URI to its installed directory. URI components
// become path components; a versioned directory variant (e.g. QtQuick.2)
// is preferred when its version does not exceed the requested one.
func moduleDir(root *sdk.Root, uri, version string) (string, error) {
	base := filepath.Join(root.QmlDir(), strings.ReplaceAll(uri, ".", string(os.PathSeparator)))

	var reqVer *goversion.Version
	if version != "" {
		reqVer, _ = goversion.NewVersion(version)
	}

	matches, _ := filepath.Glob(base + ".*")
	var best string
	var bestVer *goversion.Version
	for _, match := range matches {
		if helpers.IsDirectory(match) == false {
			continue
		}
		suffix := strings.TrimPrefix(filepath.Base(match), filepath.Base(base)+".")
		v, err := goversion.NewVersion(suffix)
		if err != nil {
			continue
		}
		if reqVer != nil && v.GreaterThan(reqVer) {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = match, v
		}
	}
	if best != "" {
		return best, nil
	}
	if helpers.IsDirectory(base) {
		return base, nil
	}
	return "", fmt.Errorf("qml module %s not found below %s", uri, root.QmlDir())
}

func collectImports(path string, requested map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := importLine.FindStringSubmatch(scanner.Text())
		if m != nil {
			addRequested(requested, m[1], m[2])
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("cannot scan %s: %w", path, err)
	}
	return nil
}

// addRequested keeps the highest version seen for a URI.
func addRequested(requested map[string]string, uri, version string) {
	prev, ok := requested[uri]
	if ok == false || prev == "" {
		requested[uri] = version
		return
	}
	if version == "" {
		return
	}
	pv, err1 := goversion.NewVersion(prev)
	nv, err2 := goversion.NewVersion(version)
	if err1 == nil && err2 == nil && nv.GreaterThan(pv) {
		requested[uri] = version
	}
}

type qmldirDep struct {
	uri     string
	version string
}

func parseQmldir(path string) (plugin string, depends []qmldirDep, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if m := qmldirPlugin.FindStringSubmatch(line); m != nil {
			plugin = m[1]
			continue
		}
		if m := qmldirDepends.FindStringSubmatch(line); m != nil {
			depends = append(depends, qmldirDep{uri: m[1], version: m[2]})
		}
	}
	return plugin, depends, scanner.Err()
}
