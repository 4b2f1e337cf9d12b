package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/glimps-re/stegascan/pkg/config"
	"github.com/glimps-re/stegascan/pkg/handler"
	"github.com/glimps-re/stegascan/pkg/scanner"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var conf = config.Default()

var stegaHandler = &handler.Handler{}

func initConfig() {
	if conf.Config == "" {
		location, err := config.GetConfigFile()
		if err != nil {
			logger.Error("could not create config file", slog.String("location", location), slog.String("error", err.Error()))
		}
		conf.Config = location
	}
	viper.SetConfigFile(conf.Config)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no config file, using flags and defaults", slog.String("location", conf.Config))
			return
		}
		logger.Error("can't read config", slog.String("error", err.Error()))
		return
	}
	if err := viper.Unmarshal(conf); err != nil {
		logger.Error("can't unmarshal config", slog.String("error", err.Error()))
	}
}

// bindFlag lets an explicitly set flag win over the config file.
func bindFlag(cmd *cobra.Command, key, flag string) {
	f := cmd.Flags().Lookup(flag)
	if f == nil {
		f = cmd.PersistentFlags().Lookup(flag)
	}
	if err := viper.BindPFlag(key, f); err != nil {
		logger.Error("could not bind flag", slog.String("flag", flag), slog.String("error", err.Error()))
	}
}

func initRoot(rootCmd *cobra.Command) {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&conf.Config, "config", config.DefaultConfigPath, "config file")
	flags.BoolVarP(&conf.Debug, "debug", "d", conf.Debug, "print debug strings")
	flags.BoolVarP(&conf.Verbose, "verbose", "v", conf.Verbose, "Report all scanned files, including clean ones, and keep the full analysis in reports")
	flags.IntVar(&conf.Workers, "workers", config.DefaultWorkers, "Number of concurrent workers for file analysis")
	flags.IntVar(&conf.ExtractWorkers, "extract-workers", config.DefaultExtractWorkers, "Number of concurrent workers for archive extraction (used when extract is enabled)")
	flags.StringVar(&conf.MaxFileSize, "max-file-size", config.DefaultMaxFileSize, "Maximum size of a scanned file (e.g., '100MiB'), larger files are reported as errors")
	flags.BoolVar(&conf.Extract, "extract", conf.Extract, "Unpack archives and scan their content along with the archive itself")
	flags.BoolVar(&conf.FollowSymlinks, "follow-symlinks", false, "Follow symbolic links when scanning directories (if disabled, symlinks are skipped)")
	flags.StringVar(&conf.Actions.PrintLocation, "print-location", "", "File path for scan verdicts (leave empty to print to stdout)")
	for key, flag := range map[string]string{
		"debug":           "debug",
		"verbose":         "verbose",
		"workers":         "workers",
		"extract_workers": "extract-workers",
		"max_file_size":   "max-file-size",
		"extract":         "extract",
		"follow_symlinks": "follow-symlinks",
	} {
		bindFlag(rootCmd, key, flag)
	}

	scanCmd.Flags().StringVarP(&conf.Scan.Report, "output", "o", config.DefaultReportLocation, "JSON report of the scan (leave empty for none)")
	scanCmd.Flags().IntVar(&conf.Scan.VideoSampleRate, "video-sample-rate", config.DefaultVideoSampleRate, "Analyze one video frame out of N")
	bindFlag(scanCmd, "scan.report", "output")
	bindFlag(scanCmd, "scan.video_sample_rate", "video-sample-rate")

	serveCmd.Flags().StringVar(&conf.Server.Address, "address", config.DefaultAddress, "Address the HTTP server listens on")
	serveCmd.Flags().StringVar(&conf.Server.MaxUploadSize, "max-upload-size", config.DefaultMaxUploadSize, "Maximum size of an uploaded file (e.g., '100MiB')")
	bindFlag(serveCmd, "server.address", "address")
	bindFlag(serveCmd, "server.max_upload_size", "max-upload-size")

	monitoringCmd.Flags().BoolVar(&conf.Monitoring.PreScan, "pre-scan", false, "Immediately scan all existing files in monitored paths when monitoring starts")
	monitoringCmd.Flags().DurationVar(&conf.Monitoring.Period, "scan-period", 0, "Time interval between periodic re-scans (e.g., '1h', '30m', 0 disables them)")
	monitoringCmd.Flags().DurationVar(&conf.Monitoring.ModDelay, "mod-delay", config.DefaultModificationDelay, "Wait time after file modification before scanning (e.g., '30s', prevents scanning incomplete writes)")
	bindFlag(monitoringCmd, "monitoring.prescan", "pre-scan")
	bindFlag(monitoringCmd, "monitoring.period", "scan-period")
	bindFlag(monitoringCmd, "monitoring.mod_delay", "mod-delay")
}

var rootCmd = &cobra.Command{
	Use:   "stegascan",
	Short: "stegascan detects data hidden in images, audio, video and text files",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		err = yaml.NewEncoder(os.Stdout).Encode(conf)
		if err != nil {
			logger.Error("error encode yaml conf", slog.String("err", err.Error()))
			return
		}
		if err = cmd.Usage(); err != nil {
			return
		}
		return
	},
}

func initHandler(cmd *cobra.Command, _ []string) (err error) {
	handler.SetLogLevel(conf.Debug)
	if conf.Debug {
		LogLevel.Set(slog.LevelDebug)
		logger.Debug("debug activated")
	}
	if conf.Verbose {
		handler.SetConsoleLogger(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	}
	stegaHandler, err = handler.NewHandler(cmd.Context(), conf)
	if err != nil {
		logger.Error("could not init stegascan properly", slog.String("error", err.Error()))
		return
	}
	return nil
}

func checkFiles(cmd *cobra.Command, args []string) error {
	pathsToScan := args
	pathsToScan = append(pathsToScan, conf.Paths...)
	if len(pathsToScan) < 1 {
		return errors.New("at least one file is mandatory")
	}
	for _, path := range pathsToScan {
		if scanner.IsS3Path(path) {
			continue
		}
		if _, err := os.Stat(filepath.Clean(path)); err != nil {
			return fmt.Errorf("could not check file %s: %w", path, err)
		}
	}
	return nil
}
