// Package cli provides the command-line interface for Stonemason
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stonemason/stonemason/pkg/config"
)

var (
	cfgFile   string
	verbosity string
	version   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "stonemason",
	Short: "Batching orchestrator for procedural rule engines",
	Long: `🗿 Stonemason - Asynchronous orchestration for procedural generation

Stonemason caches rule packages, batches generate calls, and keeps expensive
engine work off your application's hot path.`,

	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("🗿 Stonemason v%s\n", version)
			return
		}
		cmd.Help()
	},
}

// Execute runs the CLI
func Execute(v string) error {
	version = v
	initializeRootCommand()
	return rootCmd.Execute()
}

// initializeRootCommand sets up the root command and its flags.
func initializeRootCommand() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: stonemason.config.json)")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")

	rootCmd.Flags().Bool("version", false, "Print version information and quit")

	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("stonemason.config")
		viper.SetConfigType("json")
	}

	viper.SetEnvPrefix("STONEMASON")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbosity == "debug" {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config file]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "stonemason.config.json"
			if len(args) > 0 {
				path = args[0]
			} else if cfgFile != "" {
				path = cfgFile
			}

			manager := config.NewManager()
			cfg, err := manager.LoadConfig(path)
			if err != nil {
				printError(fmt.Sprintf("Invalid configuration: %v", err))
				return err
			}

			printSuccess(fmt.Sprintf("Configuration valid (workers: %d, log level: %s)",
				cfg.Workers, cfg.LogLevel))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("🗿 Stonemason v%s\n", version)
		},
	}
}

// Helper functions

func printSuccess(message string) {
	fmt.Printf("🗿 %s %s\n", color.GreenString("[Stonemason]"), message)
}

func printError(message string) {
	fmt.Fprintf(os.Stderr, "🗿 %s %s\n", color.RedString("[Stonemason]"), message)
}
