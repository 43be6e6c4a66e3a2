// Package elfinspect extracts dynamic linking metadata from ELF files.
package elfinspect

import (
	"debug/elf"
	"path/filepath"
	"strings"
)

// Info describes the dynamic linking metadata of one ELF file.
// Dependency names are sonames, not paths; resolving them against a set
// of library directories is the caller's job.
type Info struct {
	Path         string
	DirectDeps   []string // DT_NEEDED sonames, in link order
	SearchPaths  []string // pre-existing DT_RUNPATH/DT_RPATH entries, $ORIGIN expanded
	IsExecutable bool
}

// MalformedBinaryError is returned when a file cannot be parsed as ELF.
type MalformedBinaryError struct {
	Path string
	Err  error
}

func (e *MalformedBinaryError) Error() string {
	return "malformed binary " + e.Path + ": " + e.Err.Error()
}

func (e *MalformedBinaryError) Unwrap() error { return e.Err }

// Inspect reads the ELF file at path and reports its direct shared-library
// dependencies and its existing runtime search path. The file is only read,
// never modified.
func Inspect(path string) (*Info, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, &MalformedBinaryError{Path: path, Err: err}
	}
	defer f.Close()

	deps, err := f.ImportedLibraries()
	if err != nil {
		return nil, &MalformedBinaryError{Path: path, Err: err}
	}

	info := &Info{Path: path, DirectDeps: deps}

	// DT_RUNPATH wins over the deprecated DT_RPATH, same as in ld.so
	runpaths, _ := f.DynString(elf.DT_RUNPATH)
	if len(runpaths) == 0 {
		runpaths, _ = f.DynString(elf.DT_RPATH)
	}
	origin := filepath.Dir(path)
	for _, entry := range runpaths {
		for _, dir := range strings.Split(entry, ":") {
			if dir == "" {
				continue
			}
			dir = strings.ReplaceAll(dir, "$ORIGIN", origin)
			info.SearchPaths = append(info.SearchPaths, filepath.Clean(dir))
		}
	}

	switch f.Type {
	case elf.ET_EXEC:
		info.IsExecutable = true
	case elf.ET_DYN:
		// Position independent executables are ET_DYN with a PT_INTERP header
		for _, prog := range f.Progs {
			if prog.Type == elf.PT_INTERP {
				info.IsExecutable = true
				break
			}
		}
	}

	return info, nil
}
