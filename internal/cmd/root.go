package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/atikulmunna/warden/internal/logging"
)

var (
	cfgFile string
	logger  = zap.NewNop()
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden, access-log attack classifier",
	Long: `Warden tails web-server access logs, classifies every request against a
versioned attack-signature catalogue, correlates ModSecurity block notices
with the requests they denied, and records a deduplicated URL registry.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(viper.GetString("log.level"), viper.GetString("log.format"))
		if err != nil {
			return err
		}
		logger = l
		if f := viper.ConfigFileUsed(); f != "" {
			logger.Debug("config loaded", zap.String("file", f))
		}
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	setDefaults(viper.GetViper())

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default: $HOME/.warden.yaml)")
	pf.StringP("output", "o", "text", "event output: text, json, none")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "console", "log format: console, json")
	pf.String("catalogue", "attack_patterns.json", "local attack catalogue file")

	cobra.CheckErr(viper.BindPFlag("output", pf.Lookup("output")))
	cobra.CheckErr(viper.BindPFlag("log.level", pf.Lookup("log-level")))
	cobra.CheckErr(viper.BindPFlag("log.format", pf.Lookup("log-format")))
	cobra.CheckErr(viper.BindPFlag("catalogue.path", pf.Lookup("catalogue")))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".warden")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("WARDEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); !missing || cfgFile != "" {
			cobra.CheckErr(fmt.Errorf("read config: %w", err))
		}
	}
}
