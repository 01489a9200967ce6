package group

import (
	"github.com/ValentinKolb/kStorage/cmd/util"
	"github.com/ValentinKolb/kStorage/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcStore *client.RPCStore

	// GroupCommands represents the group command group
	GroupCommands = &cobra.Command{
		Use:                "group",
		Short:              "Work with the groups of a remote store",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}
)

func init() {
	util.SetupRPCClientFlags(GroupCommands)

	GroupCommands.AddCommand(allocCmd)
	GroupCommands.AddCommand(sizeCmd)
	GroupCommands.AddCommand(writeCmd)
	GroupCommands.AddCommand(readCmd)
	GroupCommands.AddCommand(rmCmd)
	GroupCommands.AddCommand(lsCmd)
	GroupCommands.AddCommand(digestCmd)
	GroupCommands.AddCommand(infoCmd)
	GroupCommands.AddCommand(perfCmd)
}

// setupClient connects the RPC store client
func setupClient(cmd *cobra.Command, _ []string) error {
	util.InitConfig()
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}
	t, err := util.GetClientTransport()
	if err != nil {
		return err
	}

	rpcStore, err = client.NewRPCStore(util.GetShardID(), *util.GetClientConfig(), t, s)
	return err
}

func closeClient(*cobra.Command, []string) error {
	if rpcStore != nil {
		rpcStore.Close()
	}
	return nil
}
