package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/kStorage/cmd/group"
	"github.com/ValentinKolb/kStorage/cmd/serve"
	"github.com/ValentinKolb/kStorage/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "kstorage",
		Short: "in-memory grouped record store",
		Long: fmt.Sprintf(`kStorage (v%s)

An in-memory record store with a fixed number of groups per store.
Readers never block, writers copy on write and freed memory is reclaimed
after all readers that could still see it are gone.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kStorage",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kStorage v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(group.GroupCommands)
	RootCmd.AddCommand(versionCmd)

	RootCmd.PersistentFlags().String("serializer", "binary", util.WrapString("serializer to use (json, gob, binary)"))
	RootCmd.PersistentFlags().String("transport", "tcp", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
