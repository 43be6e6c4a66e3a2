package sdk

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Module is one entry of the Qt module registry under mkspecs/modules.
// It is the framework's own plugin-discovery metadata: the plugin_types
// property lists the plugin groups a module loads at runtime.
type Module struct {
	Name        string // e.g. Qt6Gui
	PluginTypes []string
	Depends     []string
}

var priAssignment = regexp.MustCompile(`^\s*QT\.[A-Za-z0-9_]+\.([A-Za-z0-9_]+)\s*=\s*(.*)$`)

// Modules parses the *.pri metadata files below mkspecs/modules into a
// map keyed by module name. Unreadable metadata files are skipped; a
// missing registry yields an empty map, not an error.
func (r *Root) Modules() (map[string]Module, error) {
	pattern := filepath.Join(r.Path, "mkspecs", "modules", "*.pri")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}

	modules := make(map[string]Module)
	for _, file := range files {
		props, err := parsePri(file)
		if err != nil {
			continue
		}
		name, ok := props["module"]
		if ok == false {
			continue
		}
		modules[name] = Module{
			Name:        name,
			PluginTypes: strings.Fields(props["plugin_types"]),
			Depends:     strings.Fields(props["depends"]),
		}
	}
	return modules, nil
}

func parsePri(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	props := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := priAssignment.FindStringSubmatch(scanner.Text())
		if m != nil {
			props[m[1]] = strings.TrimSpace(m[2])
		}
	}
	return props, scanner.Err()
}
