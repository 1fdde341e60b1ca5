package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/scriptd/internal/log"
	"github.com/CZERTAINLY/scriptd/internal/model"
)

const configEnv = "SCRIPTDCONFIG"

var (
	userConfigPath string // /default/config/path/scriptd on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	logCloser      io.Closer

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		d = "."
	}
	userConfigPath = filepath.Join(d, "scriptd")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("scriptd failed", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "scriptd",
		Short:        "Service running named scripts and collecting their output",
		SilenceUsage: true,
		// never print messages
		SilenceErrors: true,
		// parse the config, setup logging
		PersistentPreRunE: initScriptd,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is $"+configEnv+" or scriptd.yaml in "+userConfigPath+" or in current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "version provide version of a scriptd",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			info, ok := debug.ReadBuildInfo()
			if !ok {
				fmt.Fprintln(out, "scriptd: version info not available")
				return
			}

			if configPath != "" {
				fmt.Fprintf(out, "config:  %s\n", configPath)
			}
			fmt.Fprintf(out, "scriptd: %s\n", info.Main.Version)
			fmt.Fprintf(out, "go:      %s\n", info.GoVersion)
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					fmt.Fprintf(out, "commit:  %s\n", s.Value)
				case "vcs.time":
					fmt.Fprintf(out, "date:    %s\n", s.Value)
				case "vcs.modified":
					fmt.Fprintf(out, "dirty:   %s\n", s.Value)
				}
			}
		},
	}
}

func initScriptd(cmd *cobra.Command, _ []string) error {
	configPath = ""
	if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else if envConfig, ok := os.LookupEnv(configEnv); ok && envConfig != "" {
		configPath = envConfig
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "scriptd.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	if configPath == "" {
		config = model.DefaultConfig(cmd.Context())
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(cmd.Context(), f)
		if err != nil {
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}

	logger, closer, err := log.New(config.Service)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logCloser = closer
	slog.SetDefault(logger)

	slog.Debug("scriptd run", "configPath", configPath)
	slog.Debug("scriptd run", "config", config)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func commandContext(cmd *cobra.Command, name string) context.Context {
	return log.ContextAttrs(cmd.Context(), slog.Group("scriptd",
		slog.String("cmd", name),
		slog.Int("pid", os.Getpid()),
	))
}
