package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/examtrack/examtrack-go/cmd/migrate"
	"github.com/examtrack/examtrack-go/cmd/serve"
	"github.com/examtrack/examtrack-go/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "examtrack",
		Short: "ExamTrack answer-sheet and incident tracking service",
	}

	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(
		serve.Command(settings),
		migrate.Command(settings),
	)

	return rootCmd
}

// setupFlags binds the global command-line flags to viper so they override
// values read from the config file.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.WebServer.Host, "host", viper.GetString("webserver.host"), "Hostname or IP address to listen on")
	rootCmd.PersistentFlags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "Port to listen on")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("webserver.host", rootCmd.PersistentFlags().Lookup("host"))
	_ = viper.BindPFlag("webserver.port", rootCmd.PersistentFlags().Lookup("port"))
}
