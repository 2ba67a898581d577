package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gritskevich/vb/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// cli carries state shared by subcommands.
type cli struct {
	v          *viper.Viper
	configPath string
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "vb",
		Short: "Remote browser session server",
		Long: `vb runs web pages in a headless browser on the server and streams
them to remote clients over WebSocket.

Clients request a session for a URL, receive a steady stream of
screenshots and send mouse and keyboard input back into the page.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file (default: ./vb.yaml or ~/.config/vb/vb.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")
	_ = c.v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(
		serveCmd(c),
		reapCmd(c),
		versionCmd(),
	)
	return rootCmd
}

// load reads the configuration with flags already bound to c.v.
func (c *cli) load() (*config.Config, error) {
	return config.Load(c.v, c.configPath)
}
