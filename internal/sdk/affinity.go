package sdk

import (
	"strings"

	"github.com/probonopd/go-qtdeploy/internal/helpers"
)

// Affinities maps a shared-library name prefix to the plugin groups that
// must be deployed whenever a library with that prefix is in the closure.
// Libraries without an entry pull in no extra plugins; under-deployment
// is preferred over bloat.
type Affinities map[string][]string

// DefaultAffinities returns the built-in affinity table. The platforms
// group carries the platform integration plugin which every GUI
// application needs, hence it hangs off libQt6Gui. Callers may extend or
// replace the table; resolver logic never hardcodes these rules.
func DefaultAffinities() Affinities {
	return Affinities{
		"libQt6Gui": {
			"platforms",
			"platforminputcontexts",
			"iconengines",
			"imageformats",
			"xcbglintegrations",
		},
		"libQt6Network":      {"tls", "networkinformation"},
		"libQt6Sql":          {"sqldrivers"},
		"libQt6PrintSupport": {"printsupport"},
		"libQt6Positioning":  {"position"},
		"libQt6Multimedia":   {"multimedia"},
		"libQt6TextToSpeech": {"texttospeech"},
		"libQt6Svg":          {"imageformats"},
	}
}

// Groups returns the plugin groups required by a library with the given
// file name, or nil if no prefix matches.
func (a Affinities) Groups(soname string) []string {
	for prefix, groups := range a {
		if strings.HasPrefix(soname, prefix) {
			return groups
		}
	}
	return nil
}

// MergeRegistry folds the plugin_types metadata of the module registry
// into the table, keyed by each module's library name prefix. The result
// is a new table; the receiver is left unchanged.
func (a Affinities) MergeRegistry(modules map[string]Module) Affinities {
	merged := make(Affinities, len(a))
	for prefix, groups := range a {
		merged[prefix] = append([]string(nil), groups...)
	}
	for name, module := range modules {
		if len(module.PluginTypes) == 0 {
			continue
		}
		prefix := "lib" + name
		for _, group := range module.PluginTypes {
			merged[prefix] = helpers.AppendIfMissing(merged[prefix], group)
		}
	}
	return merged
}
