// Package sdk models the on-disk layout of a Qt installation: its library,
// plugin, qml, translation and resource directories, plus the module
// metadata shipped under mkspecs/modules. All discovery is done by
// directory convention and collected into explicit lookup tables, so the
// result can be inspected and tested independent of the filesystem.
package sdk

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Root is the top of a Qt installation, e.g. /opt/Qt/6.2.4/gcc_64.
type Root struct {
	Path string
}

// New returns a Root for the Qt installation at path.
func New(path string) (*Root, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.IsDir() == false {
		return nil, errors.New(abs + " is not a directory")
	}
	return &Root{Path: abs}, nil
}

func (r *Root) LibDir() string          { return filepath.Join(r.Path, "lib") }
func (r *Root) PluginsDir() string      { return filepath.Join(r.Path, "plugins") }
func (r *Root) QmlDir() string          { return filepath.Join(r.Path, "qml") }
func (r *Root) TranslationsDir() string { return filepath.Join(r.Path, "translations") }
func (r *Root) ResourcesDir() string    { return filepath.Join(r.Path, "resources") }
func (r *Root) LibexecDir() string      { return filepath.Join(r.Path, "libexec") }

// Contains returns true if path points inside the SDK tree. Anything
// outside is a system file that the deployment target is expected to
// provide itself.
func (r *Root) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return abs == r.Path || strings.HasPrefix(abs, r.Path+string(os.PathSeparator))
}

var libNamePattern = regexp.MustCompile(`^lib(.+?)\.so([0-9.]*)$`)

// LibraryModuleName extracts the module name from a shared library file
// name, e.g. libQt6Gui.so.6 -> Qt6Gui. Returns "" if the name does not
// follow the lib<name>.so[.version] convention.
func LibraryModuleName(filename string) string {
	m := libNamePattern.FindStringSubmatch(filename)
	if m == nil {
		return ""
	}
	return m[1]
}
