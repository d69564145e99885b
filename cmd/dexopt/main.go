package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	kongcompletion "github.com/jotaen/kong-completion"
	"github.com/posener/complete"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/banksean/dexopt/internal/config"
	"github.com/banksean/dexopt/internal/service"
)

// Context is the shared state every command's Run(ctx *Context) method
// receives: the fully wired Service plus the flags global to every
// invocation.
type Context struct {
	Config  config.Config
	Service *service.Service
}

// CLI is the top-level command tree.
type CLI struct {
	ConfigFile string `name:"config" default:"" placeholder:"<config-file-path>" help:"path to a YAML config file overriding defaults"`
	LogFile    string `default:"" placeholder:"<log-file-path>" help:"location of the log file (leave empty to log to stderr)"`
	LogLevel   string `default:"info" enum:"debug,info,warn,error" help:"the logging level (debug, info, warn, error)"`

	DexoptPackage                         DexoptPackageCmd                         `cmd:"" name:"dexopt-package" help:"dexopt a single package"`
	DexoptPackages                        DexoptPackagesCmd                        `cmd:"" name:"dexopt-packages" help:"dexopt every package eligible for a boot/batch reason"`
	BgDexoptJob                           BgDexoptJobCmd                           `cmd:"" name:"bg-dexopt-job" help:"enable, disable, cancel, or manually trigger the background dexopt job"`
	ClearAppProfiles                      ClearAppProfilesCmd                      `cmd:"" name:"clear-app-profiles" help:"delete a package's reference and current profiles"`
	ClearProfilesAndDeleteDexoptArtifacts ClearProfilesAndDeleteDexoptArtifactsCmd `cmd:"" name:"clear-profiles-and-delete-dexopt-artifacts" help:"reset a package's dexopt state to as-installed"`
	DumpProfiles                          DumpProfilesCmd                          `cmd:"" name:"dump-profiles" help:"print a package's merged profile as text"`
	SnapshotAppProfile                    SnapshotAppProfileCmd                    `cmd:"" name:"snapshot-app-profile" help:"write a package's merged profile to stdout"`
	SnapshotBootImageProfile              SnapshotBootImageProfileCmd              `cmd:"" name:"snapshot-boot-image-profile" help:"write the merged boot-image profile to stdout"`
	Art                                   ArtCmd                                   `cmd:"" help:"inspect dexopt status and run history"`
	Doc                                   DocCmd                                   `cmd:"" help:"print complete command help formatted as markdown"`
	Version                               VersionCmd                               `cmd:"" help:"print version information about this command"`
}

func (c *CLI) initSlog() *os.File {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w = os.Stderr
	var f *os.File
	if c.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(c.LogFile), 0o755); err != nil {
			panic(err)
		}
		lj := &lumberjack.Logger{Filename: c.LogFile, MaxSize: 10, MaxBackups: 3, MaxAge: 28}
		slog.SetDefault(slog.New(slog.NewJSONHandler(lj, &slog.HandlerOptions{Level: level})))
		return nil
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
	return f
}

const description = `Inspect and drive on-device dexopt compilation: run a single
package or a whole batch, manage the background job, and query
or reset dexopt state.`

func main() {
	var cli CLI

	parser, err := kong.New(&cli,
		kong.Description(description),
		kong.Configuration(kongyaml.Loader),
		kong.UsageOnError(),
		kong.Help(MarkdownHelpPrinter),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building CLI parser: %v\n", err)
		os.Exit(1)
	}
	kongcompletion.Register(parser, kongcompletion.WithPredictor("file", complete.PredictFiles("*")))

	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	cli.initSlog()

	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	// "doc" and "version" never need a running service.
	cmdName := kctx.Command()
	if cmdName == "doc" || cmdName == "version" {
		kctx.FatalIfErrorf(kctx.Run(&Context{Config: cfg}))
		return
	}

	svc, err := buildService(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing dexopt service: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close(context.Background())

	err = kctx.Run(&Context{Config: cfg, Service: svc})
	kctx.FatalIfErrorf(err)
}
