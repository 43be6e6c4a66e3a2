package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/probonopd/go-qtdeploy/internal/elfinspect"
	"github.com/probonopd/go-qtdeploy/internal/sdk"
)

// fakeInspector resolves dependencies from a canned table keyed by file
// base name, so tests control the closure without real ELF fixtures.
func fakeInspector(deps map[string][]string) func(string) (*elfinspect.Info, error) {
	return func(path string) (*elfinspect.Info, error) {
		name := filepath.Base(path)
		return &elfinspect.Info{
			Path:         path,
			DirectDeps:   deps[name],
			IsExecutable: filepath.Ext(name) == "",
		}, nil
	}
}

func writeFiles(t *testing.T, root string, rels ...string) {
	t.Helper()
	for _, rel := range rels {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("\x7fELF "+rel), 0755); err != nil {
			t.Fatal(err)
		}
	}
}

func testSDK(t *testing.T, rels ...string) *sdk.Root {
	t.Helper()
	root, err := sdk.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	writeFiles(t, root.Path, rels...)
	return root
}

func names(g *Graph) map[string]Kind {
	out := make(map[string]Kind)
	for _, n := range g.Nodes() {
		out[n.Name] = n.Kind
	}
	return out
}

func TestResolveLibraryClosure(t *testing.T) {
	root := testSDK(t, "lib/libFoo.so", "lib/libBar.so")

	appDir := t.TempDir()
	writeFiles(t, appDir, "app")

	g, err := Resolve(Config{
		Executables: []string{filepath.Join(appDir, "app")},
		SDK:         root,
		Affinities:  sdk.Affinities{},
		Inspect: fakeInspector(map[string][]string{
			"app":        {"libFoo.so"},
			"libFoo.so":  {"libBar.so"},
			"libBar.so":  {"libFoo.so"}, // mutual dependency must not loop
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	got := names(g)
	if len(got) != 3 {
		t.Fatalf("Expected closure {app, libFoo, libBar}, got %v", got)
	}
	if got["app"] != KindExecutable || got["libFoo.so"] != KindLibrary || got["libBar.so"] != KindLibrary {
		t.Errorf("Unexpected node kinds: %v", got)
	}

	app, _ := g.Node(filepath.Join(appDir, "app"))
	deps := g.Requires(app.Path)
	if len(deps) != 1 || deps[0].Name != "libFoo.so" {
		t.Errorf("app should require exactly libFoo.so, got %v", deps)
	}
}

func TestResolveExternalAndUnresolved(t *testing.T) {
	root := testSDK(t, "lib/libFoo.so")

	sysDir := t.TempDir()
	writeFiles(t, sysDir, "libsystem.so.1")
	saved := defaultSystemLibDirs
	defaultSystemLibDirs = []string{sysDir}
	defer func() { defaultSystemLibDirs = saved }()

	appDir := t.TempDir()
	writeFiles(t, appDir, "app")

	g, err := Resolve(Config{
		Executables: []string{filepath.Join(appDir, "app")},
		SDK:         root,
		Affinities:  sdk.Affinities{},
		Inspect: fakeInspector(map[string][]string{
			"app": {"libFoo.so", "libsystem.so.1", "libnowhere.so"},
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := names(g)["libsystem.so.1"]; ok {
		t.Error("System library ended up in the deployment graph")
	}
	if len(g.External) != 1 || g.External[0] != "libsystem.so.1" {
		t.Errorf("System library not recorded as external: %v", g.External)
	}

	var unresolved *UnresolvedDependencyError
	found := false
	for _, w := range g.Warnings {
		if errors.As(w, &unresolved) && unresolved.Soname == "libnowhere.so" {
			found = true
		}
	}
	if found == false {
		t.Errorf("Missing soname did not produce an UnresolvedDependencyError: %v", g.Warnings)
	}
}

func TestResolvePluginAffinity(t *testing.T) {
	root := testSDK(t,
		"lib/libQt6Gui.so.6",
		"lib/libGLX.so",
		"plugins/platforms/libqxcb.so",
	)

	appDir := t.TempDir()
	writeFiles(t, appDir, "app")

	g, err := Resolve(Config{
		Executables: []string{filepath.Join(appDir, "app")},
		SDK:         root,
		Affinities:  sdk.Affinities{"libQt6Gui": {"platforms"}},
		Inspect: fakeInspector(map[string][]string{
			"app":        {"libQt6Gui.so.6"},
			"libqxcb.so": {"libGLX.so"}, // plugin dependencies fold into the closure
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	got := names(g)
	if got["libqxcb.so"] != KindPlugin {
		t.Fatalf("Platform plugin missing from closure: %v", got)
	}
	if got["libGLX.so"] != KindLibrary {
		t.Errorf("Plugin dependency not folded into closure: %v", got)
	}

	plugin, _ := g.Node(filepath.Join(root.Path, "plugins/platforms/libqxcb.so"))
	if plugin.Group != "platforms" {
		t.Errorf("Plugin node lost its group: %+v", plugin)
	}
}

func TestResolveExtraPluginMissingIsFatal(t *testing.T) {
	root := testSDK(t, "lib/libFoo.so", "plugins/platforms/libqxcb.so")

	appDir := t.TempDir()
	writeFiles(t, appDir, "app")

	_, err := Resolve(Config{
		Executables:  []string{filepath.Join(appDir, "app")},
		SDK:          root,
		Affinities:   sdk.Affinities{},
		ExtraPlugins: []string{"sqldrivers"},
		Inspect:      fakeInspector(map[string][]string{"app": {"libFoo.so"}}),
	})

	var missing *MissingArtifactError
	if errors.As(err, &missing) == false {
		t.Fatalf("Expected MissingArtifactError, got %v", err)
	}
	if missing.Name != "sqldrivers" {
		t.Errorf("Error does not name the missing group: %v", missing)
	}
}

func TestResolveExtraPluginRequested(t *testing.T) {
	root := testSDK(t, "lib/libFoo.so", "plugins/sqldrivers/libqsqlite.so")

	appDir := t.TempDir()
	writeFiles(t, appDir, "app")

	g, err := Resolve(Config{
		Executables:  []string{filepath.Join(appDir, "app")},
		SDK:          root,
		Affinities:   sdk.Affinities{},
		ExtraPlugins: []string{"sqldrivers"},
		Inspect:      fakeInspector(map[string][]string{"app": {"libFoo.so"}}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if names(g)["libqsqlite.so"] != KindPlugin {
		t.Errorf("Explicitly requested plugin missing: %v", names(g))
	}
}

func TestResolveTranslations(t *testing.T) {
	root := testSDK(t, "lib/libQt6Core.so.6")
	if err := os.MkdirAll(root.TranslationsDir(), 0755); err != nil {
		t.Fatal(err)
	}
	qm := filepath.Join(root.TranslationsDir(), "qtbase_de.qm")
	if err := os.WriteFile(qm, []byte("qm"), 0644); err != nil {
		t.Fatal(err)
	}

	appDir := t.TempDir()
	writeFiles(t, appDir, "app")

	g, err := Resolve(Config{
		Executables: []string{filepath.Join(appDir, "app")},
		SDK:         root,
		Affinities:  sdk.Affinities{},
		Inspect:     fakeInspector(map[string][]string{"app": {"libQt6Core.so.6"}}),
	})
	if err != nil {
		t.Fatal(err)
	}

	if names(g)["qtbase_de.qm"] != KindTranslation {
		t.Errorf("Translation catalog missing from closure: %v", names(g))
	}
	lib, _ := g.Node(filepath.Join(root.Path, "lib/libQt6Core.so.6"))
	deps := g.Requires(lib.Path)
	if len(deps) != 1 || deps[0].Kind != KindTranslation {
		t.Errorf("Catalog not attached to its module: %v", deps)
	}
}

func TestDirsFromSoConfTruncatedDirectives(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "ld.so.conf")
	content := "# comment\ninclude\nhwcap\ninclude " + dir + "/*.conf\n/opt/lib\n"
	if err := os.WriteFile(conf, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	// Bare "include" and "hwcap" lines must not panic.
	dirs := dirsFromSoConf(conf)

	found := false
	for _, d := range dirs {
		if d == "/opt/lib" {
			found = true
		}
	}
	if found == false {
		t.Errorf("Directory entry lost: %v", dirs)
	}
}

func TestResolveMissingExecutableIsFatal(t *testing.T) {
	root := testSDK(t, "lib/libFoo.so")

	_, err := Resolve(Config{
		Executables: []string{filepath.Join(t.TempDir(), "missing")},
		SDK:         root,
		Affinities:  sdk.Affinities{},
		Inspect:     fakeInspector(nil),
	})
	if err == nil {
		t.Error("Missing input executable did not abort the run")
	}
}
