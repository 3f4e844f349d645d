package runner

import (
	"os"
	"strconv"

	"github.com/logrusorgru/aurora/v4"
	"github.com/projectdiscovery/goflags"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/formatter"
	"github.com/projectdiscovery/gologger/levels"
	envutil "github.com/projectdiscovery/utils/env"
	fileutil "github.com/projectdiscovery/utils/file"

	"github.com/liquidgalaxy/lg-agent/pkg/version"
)

var au *aurora.Aurora

var (
	GoogleAPIKey = envutil.GetEnvOrDefault("GOOGLE_API_KEY", "")
	LGHostEnv    = envutil.GetEnvOrDefault("LG_HOST", "")
	LGUserEnv    = envutil.GetEnvOrDefault("LG_USERNAME", "lg")
	LGPassEnv    = envutil.GetEnvOrDefault("LG_PASSWORD", "")
	LGPortEnv    = envutil.GetEnvOrDefault("LG_PORT", "22")
	LGRigsEnv    = envutil.GetEnvOrDefault("LG_RIGS", "3")
)

// Options contains the configuration options for one controller invocation.
type Options struct {
	ConfigFile string

	Host     string
	Port     int
	Username string
	Password string
	Rigs     int

	Serve  bool
	Listen string

	FlyToQuery string
	KMLFile    string
	TourName   string
	Clear      bool
	ExitTour   bool
	LogoFile   string
	LogoRig    int

	Shutdown bool
	Reboot   bool
	Relaunch bool
	Parallel int

	AuditLog string
	APIKey   string

	Verbose bool
	Silent  bool
	NoColor bool
	Version bool
}

// ParseOptions parses the command line flags provided by a user
func ParseOptions() *Options {
	options := &Options{}
	flagSet := goflags.NewFlagSet()

	flagSet.SetDescription(`lg-agent controls a Liquid Galaxy cluster over SSH and serves the KML generation API for UI clients`)

	defaultPort, _ := strconv.Atoi(LGPortEnv)
	defaultRigs, _ := strconv.Atoi(LGRigsEnv)

	flagSet.CreateGroup("config", "Config",
		flagSet.StringVar(&options.ConfigFile, "config", "", "cli flag configuration file"),
		flagSet.StringVarP(&options.AuditLog, "audit-log", "al", "", "append dispatched commands to a jsonl audit file"),
		flagSet.StringVarP(&options.APIKey, "api-key", "ak", GoogleAPIKey, "gemini api key for kml generation"),
	)

	flagSet.CreateGroup("cluster", "Cluster",
		flagSet.StringVar(&options.Host, "host", LGHostEnv, "master rig host"),
		flagSet.IntVar(&options.Port, "port", defaultPort, "master rig ssh port"),
		flagSet.StringVarP(&options.Username, "username", "u", LGUserEnv, "ssh username"),
		flagSet.StringVarP(&options.Password, "password", "p", LGPassEnv, "ssh password"),
		flagSet.IntVar(&options.Rigs, "rigs", defaultRigs, "number of rigs in the cluster"),
	)

	flagSet.CreateGroup("content", "Content",
		flagSet.StringVarP(&options.FlyToQuery, "flyto", "f", "", "natural language query to generate and display"),
		flagSet.StringVarP(&options.KMLFile, "kml", "k", "", "kml file to display"),
		flagSet.StringVarP(&options.TourName, "play-tour", "pt", "", "start the named tour after display"),
		flagSet.BoolVarP(&options.ExitTour, "exit-tour", "et", false, "stop any running tour"),
		flagSet.BoolVarP(&options.Clear, "clear", "c", false, "clear the master slot and tour signal"),
		flagSet.StringVarP(&options.LogoFile, "logo", "l", "", "kml overlay file to pin on a rig"),
		flagSet.IntVarP(&options.LogoRig, "logo-rig", "lr", 0, "rig to pin the overlay on (default: leftmost slave)"),
	)

	flagSet.CreateGroup("power", "Power",
		flagSet.BoolVar(&options.Shutdown, "shutdown", false, "power off all rigs"),
		flagSet.BoolVar(&options.Reboot, "reboot", false, "reboot all rigs"),
		flagSet.BoolVar(&options.Relaunch, "relaunch", false, "relaunch the viewer on all rigs"),
		flagSet.IntVar(&options.Parallel, "parallel", 0, "fan power commands out with this many workers (default: sequential)"),
	)

	flagSet.CreateGroup("server", "Server",
		flagSet.BoolVar(&options.Serve, "serve", false, "run the http agent server"),
		flagSet.StringVar(&options.Listen, "listen", "127.0.0.1:8000", "http listen address"),
	)

	flagSet.CreateGroup("debug", "Debug",
		flagSet.BoolVar(&options.Version, "version", false, "show version of the project"),
		flagSet.BoolVarP(&options.Verbose, "verbose", "v", false, "show verbose output"),
		flagSet.BoolVar(&options.Silent, "silent", false, "show only results"),
		flagSet.BoolVarP(&options.NoColor, "no-color", "nc", false, "disable output content coloring (ANSI escape codes)"),
	)

	if err := flagSet.Parse(); err != nil {
		gologger.Fatal().Msgf("%s\n", err)
	}

	// configure aurora for logging
	au = aurora.New(aurora.WithColors(true))

	options.configureOutput()

	showBanner()

	if options.Version {
		gologger.Info().Msgf("Current Version: %s\n", version.GetVersion())
		os.Exit(0)
	}

	if options.ConfigFile != "" {
		if err := options.loadConfigFrom(options.ConfigFile); err != nil {
			gologger.Warning().Msgf("could not load config file: %s", err)
		}
	}

	return options
}

// configureOutput configures the output on the screen
func (options *Options) configureOutput() {
	if options.Verbose {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelVerbose)
	}
	if options.NoColor {
		gologger.DefaultLogger.SetFormatter(formatter.NewCLI(true))
		au = aurora.New(aurora.WithColors(false))
	}
	if options.Silent {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelSilent)
	}
}

func (options *Options) loadConfigFrom(location string) error {
	return fileutil.Unmarshal(fileutil.YAML, []byte(location), options)
}
