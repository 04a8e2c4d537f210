package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/scrapedesk/client"
	"github.com/aluiziolira/scrapedesk/config"
	"github.com/aluiziolira/scrapedesk/dashboard"
	"github.com/aluiziolira/scrapedesk/export"
	"github.com/aluiziolira/scrapedesk/progress"
	"github.com/aluiziolira/scrapedesk/records"
)

type commandContext struct {
	configFlag     *string
	serviceURLFlag *string
	verboseFlag    *bool
	logOutput      io.Writer

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger

	hosts *records.HostResolver
}

func newCommandContext(configFlag, serviceURLFlag *string, verboseFlag *bool) *commandContext {
	return &commandContext{
		configFlag:     configFlag,
		serviceURLFlag: serviceURLFlag,
		verboseFlag:    verboseFlag,
		logOutput:      os.Stderr,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.serviceURLFlag != nil && strings.TrimSpace(*c.serviceURLFlag) != "" {
			cfg.ServiceURL = strings.TrimSpace(*c.serviceURLFlag)
			if err := cfg.Validate(); err != nil {
				c.configErr = err
				return
			}
		}
		if c.verboseFlag != nil && *c.verboseFlag {
			cfg.Verbose = true
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) log() *slog.Logger {
	c.loggerOnce.Do(func() {
		verbose := c.config != nil && c.config.Verbose
		c.logger = newLogger(c.logOutput, verbose)
		slog.SetDefault(c.logger)
	})
	return c.logger
}

// newDashboard wires the client-side state owner against the configured
// service.
func (c *commandContext) newDashboard(opts ...dashboard.Option) (*dashboard.Dashboard, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger := c.log()

	api, err := client.New(cfg.ServiceURL, cfg.RequestTimeout,
		client.WithLogger(logger),
		client.WithMetrics(client.NewMetrics()),
	)
	if err != nil {
		return nil, err
	}
	streams := progress.NewClient(api.ProgressURL(), api.HTTPClient(), logger)
	exporter := export.NewEngine(cfg.ExportDir, time.Local, logger)

	c.hosts = records.NewHostResolver(cfg.HostCacheSize, logger)
	opts = append([]dashboard.Option{dashboard.WithHostResolver(c.hosts)}, opts...)
	return dashboard.New(api, streams, exporter, logger, opts...), nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var serviceURLFlag string
	var verboseFlag bool

	ctx := newCommandContext(&configFlag, &serviceURLFlag, &verboseFlag)

	rootCmd := &cobra.Command{
		Use:           "scrapedesk",
		Short:         "Submit scrape jobs and manage the extracted records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx.logOutput = cmd.ErrOrStderr()
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&serviceURLFlag, "service-url", "", "Extraction service base URL")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newExportCommand(ctx))
	rootCmd.AddCommand(newDeleteCommand(ctx))

	return rootCmd
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(w) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
