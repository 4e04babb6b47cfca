// Package commands implements the ambot command line.
package commands

import (
	"os"

	"github.com/asoloa/ambot/internal/config"
	"github.com/asoloa/ambot/internal/knowledgebase"
	"github.com/asoloa/ambot/internal/logging"
	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app carries what the persistent flags resolved to.
type app struct {
	cfgFile  string
	endpoint string
	kbPath   string
	logLevel string
	noColor  bool

	cfg   *config.Config
	store *knowledgebase.Store
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "ambot",
		Short: "Ask questions about the site owner from the terminal",
		Long: `ambot is the terminal rendition of the website chat widget. It builds the
knowledgebase context locally and sends each turn to the completion endpoint
served by ambot-server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "config.yaml", "config file path")
	root.PersistentFlags().StringVar(&a.endpoint, "endpoint", "", "completion endpoint (overrides chat.endpoint)")
	root.PersistentFlags().StringVar(&a.kbPath, "kb", "", "knowledgebase file (overrides knowledgebase.path)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "debug, info, warn, error or quiet")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(newChatCmd(a), newAskCmd(a), newContextCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if a.noColor {
		color.NoColor = true
	}

	logging.SetupBaseLogger()
	log.SetOutput(os.Stderr)
	logging.SetLogLevel(a.logLevel)

	cfg, err := config.LoadConfigOptional(a.cfgFile, !cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	cfg.LoadEnv(a.cfgFile)
	if a.endpoint != "" {
		cfg.Chat.Endpoint = a.endpoint
	}
	if a.kbPath != "" {
		cfg.Knowledgebase.Path = a.kbPath
	}
	a.cfg = cfg

	kb, err := knowledgebase.LoadOrDefault(cfg.Knowledgebase.Path)
	if err != nil {
		return err
	}
	for _, w := range knowledgebase.Validate(kb) {
		log.Warn(w)
	}
	a.store = knowledgebase.NewStore(kb, cfg.Knowledgebase.Path)
	return nil
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
