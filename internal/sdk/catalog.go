package sdk

import (
	"os"
	"path/filepath"

	"github.com/probonopd/go-qtdeploy/internal/helpers"
)

// Plugin is one loadable Qt plugin found below the SDK plugins directory.
type Plugin struct {
	Soname string
	Group  string // the subdirectory name, e.g. platforms, imageformats
	Path   string
}

// PluginCatalog enumerates the installed plugin binaries. Each
// subdirectory of the plugins root names a plugin group; every ELF file
// inside belongs to that group. Non-ELF files (debug info, metadata) are
// ignored.
func (r *Root) PluginCatalog() (map[string]Plugin, error) {
	groups, err := os.ReadDir(r.PluginsDir())
	if err != nil {
		return nil, err
	}

	catalog := make(map[string]Plugin)
	for _, group := range groups {
		if group.IsDir() == false {
			continue
		}
		groupDir := filepath.Join(r.PluginsDir(), group.Name())
		files, err := os.ReadDir(groupDir)
		if err != nil {
			continue
		}
		for _, file := range files {
			path := filepath.Join(groupDir, file.Name())
			if file.IsDir() || helpers.IsELF(path) == false {
				continue
			}
			catalog[file.Name()] = Plugin{
				Soname: file.Name(),
				Group:  group.Name(),
				Path:   path,
			}
		}
	}
	return catalog, nil
}

// HasGroup returns true if the catalog contains at least one plugin in
// the given group.
func HasGroup(catalog map[string]Plugin, group string) bool {
	for _, p := range catalog {
		if p.Group == group {
			return true
		}
	}
	return false
}
