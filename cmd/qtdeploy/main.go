// qtdeploy makes Qt 6 applications self-contained: it computes the
// libraries, plugins, QML modules and translations the given
// executables need, copies them next to the application and rewrites
// runpaths so everything resolves relative to $ORIGIN.
package main

import (
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/probonopd/go-qtdeploy/internal/helpers"
	"github.com/probonopd/go-qtdeploy/internal/install"
	"github.com/probonopd/go-qtdeploy/internal/patch"
	"github.com/probonopd/go-qtdeploy/internal/plan"
	"github.com/probonopd/go-qtdeploy/internal/resolver"
	"github.com/probonopd/go-qtdeploy/internal/sdk"
)

// Set at build time with -X main.commit=...
var commit string

// bootstrapDeploy converts the cli.Context into a resolver run, builds
// the deployment plan and executes it.
// 		Args: c: cli.Context
func bootstrapDeploy(c *cli.Context) error {
	if c.NArg() < 1 {
		log.Println("Please supply the path to at least one executable to deploy, e.g.:")
		log.Println(os.Args[0], "--qtdir /opt/qt6 build/myapp")
		return cli.Exit("Terminated.", 1)
	}

	verbosity := c.Int("verbose")

	root, err := sdk.New(c.String("qtdir"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	g, err := resolver.Resolve(resolver.Config{
		Executables:  c.Args().Slice(),
		ScanDirs:     c.StringSlice("qml-scan-dir"),
		SDK:          root,
		ExtraPlugins: c.StringSlice("extra-plugin"),
		Verbosity:    verbosity,
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	for _, warning := range g.Warnings {
		log.Println("WARNING:", warning)
	}
	for _, soname := range g.External {
		helpers.Logf(verbosity, 2, "system-provided: %s", soname)
	}

	out := plan.OutputConfig{
		Dir:             c.String("out-dir"),
		ExeDir:          c.String("out-exe-dir"),
		LibDir:          c.String("out-lib-dir"),
		PluginsDir:      c.String("out-plugins-dir"),
		QmlDir:          c.String("out-qml-dir"),
		DataDir:         c.String("out-data-dir"),
		TranslationsDir: c.String("out-translations-dir"),
		Skip: plan.SkipFlags{
			Conf:         c.Bool("no-conf"),
			Exe:          c.Bool("no-exe"),
			Lib:          c.Bool("no-lib"),
			Plugins:      c.Bool("no-plugins"),
			Qml:          c.Bool("no-qml"),
			Data:         c.Bool("no-data"),
			Translations: c.Bool("no-translations"),
		},
	}
	if err := out.ApplyDefaults(c.Args().First()); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	p, err := plan.BuildPlan(g, out)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	dryRun := c.Bool("dry-run")
	if patch.Available() == false && dryRun == false {
		return cli.Exit("patchelf is needed on the $PATH, please install it", 1)
	}

	rep := install.Install(p, install.Options{
		Force:     c.Bool("force"),
		DryRun:    dryRun,
		Verbosity: verbosity,
	})

	// Patch failures leave single files un-relocatable but do not make
	// the run fatal; they are reported and counted like warnings.
	patchErrs := patch.Apply(p, rep, dryRun, verbosity)
	for _, err := range patchErrs {
		helpers.PrintError("patch", err)
	}

	if out.Skip.Conf == false {
		if err := patch.WriteQtConf(p, c.Bool("force"), dryRun, verbosity); err != nil {
			helpers.PrintError("qt.conf", err)
			patchErrs = append(patchErrs, err)
		}
	}

	warned := len(g.Warnings) + len(patchErrs)
	helpers.Logf(verbosity, 1, "%s, %d warned", rep.Summary(), warned)
	if rep.CriticalFailure {
		return cli.Exit("deployment incomplete, see messages above", 1)
	}
	return nil
}

// main Command Line Entrypoint. Defines the command line structure and
// hands the deploy action its options.
func main() {

	var version string

	// Derive the version from -X main.commit=$YOUR_VALUE_HERE
	// if the build does not have the commit variable set externally,
	// fall back to unsupported custom build
	if commit != "" {
		version = commit
	} else {
		version = "unsupported custom build"
	}

	app := &cli.App{
		Name:                 "qtdeploy",
		Version:              version,
		Usage:                "Deploy the Qt libraries, plugins, QML modules and translations an application needs",
		ArgsUsage:            "EXECUTABLE...",
		EnableBashCompletion: false,
		HideHelp:             false,
		HideVersion:          false,
		Compiled:             time.Time{},
		Action:               bootstrapDeploy,
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     "qtdir",
			Usage:    "Path to the Qt installation to deploy from",
			Required: true,
		},
		&cli.StringSliceFlag{
			Name:  "qml-scan-dir",
			Usage: "Directory to scan for QML imports, may be given multiple times",
		},
		&cli.StringSliceFlag{
			Name:  "extra-plugin",
			Usage: "Plugin group to deploy even when no library asks for it, e.g. sqldrivers",
		},
		&cli.StringFlag{
			Name:  "out-dir",
			Usage: "Target directory, defaults to the directory of the first executable",
		},
		&cli.StringFlag{Name: "out-exe-dir", Usage: "Target directory for executables"},
		&cli.StringFlag{Name: "out-lib-dir", Usage: "Target directory for libraries"},
		&cli.StringFlag{Name: "out-plugins-dir", Usage: "Target directory for plugins"},
		&cli.StringFlag{Name: "out-qml-dir", Usage: "Target directory for QML modules"},
		&cli.StringFlag{Name: "out-data-dir", Usage: "Target directory for data files"},
		&cli.StringFlag{Name: "out-translations-dir", Usage: "Target directory for translations"},
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "Overwrite existing files",
		},
		&cli.BoolFlag{
			Name:    "dry-run",
			Aliases: []string{"n"},
			Usage:   "Report what would be done without writing anything",
		},
		&cli.IntFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Verbosity, 0 is quiet, 2 prints every decision",
			Value:   1,
		},
		&cli.BoolFlag{Name: "no-conf", Usage: "Do not write qt.conf"},
		&cli.BoolFlag{Name: "no-exe", Usage: "Do not deploy the executables themselves"},
		&cli.BoolFlag{Name: "no-lib", Usage: "Do not deploy libraries"},
		&cli.BoolFlag{Name: "no-plugins", Usage: "Do not deploy plugins"},
		&cli.BoolFlag{Name: "no-qml", Usage: "Do not deploy QML modules"},
		&cli.BoolFlag{Name: "no-data", Usage: "Do not deploy data files"},
		&cli.BoolFlag{Name: "no-translations", Usage: "Do not deploy translations"},
	}

	errRuntime := app.Run(os.Args)
	if errRuntime != nil {
		log.Fatal(errRuntime)
	}

}
