package main

import (
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"gvmjit/internal/jit"
	gvm "gvmjit/vm"
)

var (
	cfgFile string
	logger  *zap.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gvm",
		Short: "A stack-based bytecode interpreter with an optional tracing JIT",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .gvmjit.yaml)")
	root.PersistentFlags().Bool("jit", true, "enable the tracing JIT")
	root.PersistentFlags().Int32("jit-threshold", 50, "back-edge traversals before a loop is compiled")
	root.PersistentFlags().Bool("jit-trace", false, "log every compiled trace")
	root.PersistentFlags().String("jit-arch", runtime.GOARCH, "target architecture for code generation (amd64, arm64)")

	_ = viper.BindPFlag("jit", root.PersistentFlags().Lookup("jit"))
	_ = viper.BindPFlag("jit-threshold", root.PersistentFlags().Lookup("jit-threshold"))
	_ = viper.BindPFlag("jit-trace", root.PersistentFlags().Lookup("jit-trace"))
	_ = viper.BindPFlag("jit-arch", root.PersistentFlags().Lookup("jit-arch"))

	root.AddCommand(newRunCmd())
	root.AddCommand(newDebugCmd())
	root.AddCommand(newDisasmCmd())

	return root
}

func initConfig(cmd *cobra.Command) error {
	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".gvmjit")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, herr := os.UserHomeDir(); herr == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("GVMJIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return err
		}
	}

	return nil
}

// buildEngine wires an internal/jit.Engine from the resolved config, or
// returns (nil, nil) when --jit=false - the interpreter runs unaccelerated
// in that case, which is the same code path as an unsupported --jit-arch.
func buildEngine() (gvm.JIT, error) {
	if !viper.GetBool("jit") {
		return nil, nil
	}

	cfg := jit.DefaultConfig()
	cfg.Threshold = viper.GetInt32("jit-threshold")
	cfg.TraceLog = viper.GetBool("jit-trace")
	cfg.Arch = viper.GetString("jit-arch")

	// --jit-trace swaps in a development logger so the engine's Debug-level
	// recording and codegen events are printed.
	if cfg.TraceLog {
		if dev, derr := zap.NewDevelopment(); derr == nil {
			logger = dev
		}
	}

	engine, err := jit.New(cfg, cfg.Arch, logger)
	if err != nil {
		logger.Warn("JIT unavailable, falling back to pure interpretation", zap.Error(err))
		return nil, nil
	}
	return engine, nil
}
