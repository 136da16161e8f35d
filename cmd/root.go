package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"unichat/internal/config"
	"unichat/internal/logger"
	"unichat/internal/provider"
	providerfactory "unichat/internal/provider/factory"
	"unichat/internal/router"
)

const rootLongDesc string = `unichat sends chat requests to OpenAI, Anthropic and Together
through one request shape, refusing requests a model cannot serve
before any network call is made.

Examples:
  unichat serve --port 9090
  unichat chat --backend openai --model gpt-4o "hello"
  unichat caps --backend together --model meta-llama/Llama-3-8b-chat-hf`

const defaultEnvFile = ".env"

type rootOptions struct {
	configPath string
	envFile    string
	debug      bool

	logger *zap.Logger
}

// NewRootCmd assembles the unichat command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "unichat",
		Short:         "Provider-agnostic chat client and gateway",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(opts.envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			opts.logger = logger.New(opts.debug)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "unichat.yaml", "Path to YAML configuration file")
	flags.StringVar(&opts.envFile, "env-file", defaultEnvFile, "Path to a dotenv file loaded before the configuration")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newCapsCmd(opts),
	)

	return cmd
}

// Execute runs the command tree with args under ctx.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// loadEnvFile populates the process environment from a dotenv file. A
// missing default file is ignored; a missing explicit file is an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// buildRouter constructs every configured provider. The caller owns the
// returned registry and must close it.
func (o *rootOptions) buildRouter(cfg config.Config) (*router.Router, *provider.Registry, error) {
	registry, err := providerfactory.BuildRegistry(cfg, o.logger)
	if err != nil {
		return nil, nil, err
	}
	if len(registry.Names()) == 0 {
		o.logger.Warn("no providers configured", zap.String("config", o.configPath))
	}
	return router.New(registry, o.logger), registry, nil
}
