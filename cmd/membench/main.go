package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/pojntfx/membench/pkg/affinity"
	"github.com/pojntfx/membench/pkg/config"
	"github.com/pojntfx/membench/pkg/engine"
	"github.com/pojntfx/membench/pkg/flush"
	"github.com/pojntfx/membench/pkg/pattern"
	"github.com/pojntfx/membench/pkg/utils"
	"github.com/pojntfx/membench/pkg/workspace"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const banner = "********************************************"

var (
	configFile string

	heading = color.New(color.FgCyan, color.Bold).SprintFunc()
	value   = color.New(color.FgGreen).SprintFunc()
)

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func printHeader(cfg config.Benchmark) {
	fmt.Println(banner)
	fmt.Println(heading("# Running Memory Micro Benchmark"))
	fmt.Println("# Number of threads:", value(cfg.Threads))
	fmt.Println("# Number of memory access per thread:", value(utils.FormatCount(cfg.AccessCount)))
	fmt.Println("# Buffer size per thread:", value(utils.FormatBytes(cfg.BufferSize)))
	fmt.Println("# Memory access pattern:", value(cfg.AccessType))
	if cfg.RepeatCount > 1 {
		fmt.Println("# Passes over the access table:", value(cfg.RepeatCount))
	}
	fmt.Println(banner)
}

func run(v *viper.Viper) error {
	log := newLogger(v.GetBool(config.KeyVerbose))

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	cpus, err := affinity.AvailableCPUs()
	if err != nil {
		return err
	}

	if err := cfg.Validate(len(cpus)); err != nil {
		return err
	}

	host, err := config.Inspect()
	if err != nil {
		log.Warn().Err(err).Msg("Could not inspect host, skipping memory preflight")
	} else {
		if err := cfg.WithFlushFloor().Preflight(host, uint64(workspace.GuardSize())); err != nil {
			return err
		}

		if cfg.SharesPhysicalCores(host) {
			log.Warn().Int("threads", cfg.Threads).Int("physicalCores", host.PhysicalCores).Msg("Workers will share physical cores")
		}
	}

	jsonMode := v.GetBool(config.KeyJSON)
	if !jsonMode {
		printHeader(cfg)
	}

	res, err := engine.NewEngine(cfg, nil, log).Run()
	if err != nil {
		return err
	}

	if jsonMode {
		return utils.EncodeJSON(os.Stdout, res)
	}

	fmt.Printf("Elapsed time: %v seconds\n", value(res.ElapsedSeconds))
	fmt.Printf("Bandwidth: %v GiB/s\n", value(fmt.Sprintf("%.4f", res.BandwidthGiBPerSecond)))

	log.Debug().Uint64("checksum", res.Checksum).Ints("cores", res.Cores).Msg("Run finished")

	return nil
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	accessTypes := []string{}
	for _, accessType := range pattern.AccessTypes() {
		accessTypes = append(accessTypes, accessType.String())
	}

	cmd := &cobra.Command{
		Use:   "membench",
		Short: "Measure memory latency and bandwidth with one pinned worker per core",
		Args:  cobra.NoArgs,

		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return nil
			}

			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("could not read config file: %w", err)
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "Config file to read options from")
	flags.IntP("threads-num", "t", 1, "Number of pinned worker threads")
	flags.Int64P("buffer-size", "b", 64, "Buffer size per thread in MiB")
	flags.Int64P("access-num", "a", 16, "Memory accesses per thread in units of 2^20")
	flags.StringP("access-type", "p", pattern.Sequential.String(), "Access pattern ("+strings.Join(accessTypes, "/")+")")
	flags.Int64P("repeat-num", "r", 1, "Passes over the access table per thread")
	flags.Int64("flush-size", flush.DefaultSize/config.SizeUnit, "Size of each cache flush scratch region in MiB")
	flags.BoolP("verbose", "v", false, "Whether to enable verbose logging")
	flags.Bool("json", false, "Whether to print the result as JSON")

	for key, flag := range map[string]string{
		config.KeyThreads:     "threads-num",
		config.KeyBufferSize:  "buffer-size",
		config.KeyAccessCount: "access-num",
		config.KeyAccessType:  "access-type",
		config.KeyRepeatCount: "repeat-num",
		config.KeyFlushSize:   "flush-size",
		config.KeyVerbose:     "verbose",
		config.KeyJSON:        "json",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	return cmd
}

func main() {
	v := viper.New()
	config.SetDefaults(v)
	v.SetEnvPrefix("membench")
	v.AutomaticEnv()

	if err := newRootCommand(v).Execute(); err != nil {
		os.Exit(1)
	}
}
