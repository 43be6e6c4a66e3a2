package sdk

import (
	"path/filepath"
	"regexp"
	"sort"

	"github.com/probonopd/go-qtdeploy/internal/helpers"
)

// TranslationPrefixes maps a Qt module name to the file name prefix of
// its translation catalogs below translations/. Several modules share
// the qtbase catalog.
var TranslationPrefixes = map[string]string{
	"Qt6Concurrent":        "qtbase",
	"Qt6Core":              "qtbase",
	"Qt6Gui":               "qtbase",
	"Qt6Help":              "qt_help",
	"Qt6Multimedia":        "qtmultimedia",
	"Qt6MultimediaWidgets": "qtmultimedia",
	"Qt6MultimediaQuick":   "qtmultimedia",
	"Qt6Network":           "qtbase",
	"Qt6Qml":               "qtdeclarative",
	"Qt6Quick":             "qtdeclarative",
	"Qt6SerialPort":        "qtserialport",
	"Qt6Sql":               "qtbase",
	"Qt6Test":              "qtbase",
	"Qt6Widgets":           "qtbase",
	"Qt6Xml":               "qtbase",
	"Qt6WebEngine":         "qtwebengine",
}

var qtbaseCatalog = regexp.MustCompile(`^qtbase_(.+)\.qm$`)

// Languages returns the locales for which the SDK ships qtbase
// translations, sorted. The qtbase catalog is taken as the authoritative
// list of installed languages.
func (r *Root) Languages() []string {
	files, err := filepath.Glob(filepath.Join(r.TranslationsDir(), "qtbase_*.qm"))
	if err != nil {
		return nil
	}
	var langs []string
	for _, file := range files {
		m := qtbaseCatalog.FindStringSubmatch(filepath.Base(file))
		if m != nil {
			langs = helpers.AppendIfMissing(langs, m[1])
		}
	}
	sort.Strings(langs)
	return langs
}

// TranslationFiles returns the .qm catalogs present for the given module
// across all installed SDK languages.
func (r *Root) TranslationFiles(module string) []string {
	prefix, ok := TranslationPrefixes[module]
	if ok == false {
		return nil
	}
	var files []string
	for _, lang := range r.Languages() {
		qm := filepath.Join(r.TranslationsDir(), prefix+"_"+lang+".qm")
		if helpers.Exists(qm) {
			files = helpers.AppendIfMissing(files, qm)
		}
	}
	return files
}
