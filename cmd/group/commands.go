package group

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/ValentinKolb/kStorage/lib/kstorage"
	"github.com/spf13/cobra"
)

var (
	allocCmd = &cobra.Command{
		Use:   "alloc",
		Short: "Allocates the next free group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := rpcStore.AllocateGroup()
			if err != nil {
				return err
			}
			fmt.Printf("group=%d\n", gid)
			return nil
		},
	}
	sizeCmd = &cobra.Command{
		Use:   "size [group]",
		Short: "Prints the number of records in a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := parseGroup(args[0])
			if err != nil {
				return err
			}
			size, err := rpcStore.GroupSize(gid)
			if err != nil {
				return err
			}
			fmt.Printf("group=%d, size=%d\n", gid, size)
			return nil
		},
	}
	writeCmd = &cobra.Command{
		Use:   "write [group] [id] [value]",
		Short: "Inserts or replaces a record",
		Long:  "Inserts or replaces a record. With --file the value is read from a file instead of the argument.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, id, err := parseRecord(args[0], args[1])
			if err != nil {
				return err
			}
			var value []byte
			if path, _ := cmd.Flags().GetString("file"); path != "" {
				if value, err = os.ReadFile(path); err != nil {
					return err
				}
			} else if len(args) == 3 {
				value = []byte(args[2])
			} else {
				return fmt.Errorf("either a value or --file is required")
			}
			if err := rpcStore.Write(gid, id, value, 0, len(value)); err != nil {
				return err
			}
			fmt.Printf("wrote %d bytes to record %d in group %d\n", len(value), id, gid)
			return nil
		},
	}
	readCmd = &cobra.Command{
		Use:   "read [group] [id]",
		Short: "Reads a range of a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, id, err := parseRecord(args[0], args[1])
			if err != nil {
				return err
			}
			offset, _ := cmd.Flags().GetInt("offset")
			length, _ := cmd.Flags().GetInt("length")
			asHex, _ := cmd.Flags().GetBool("hex")

			buf := make([]byte, max(length, 0))
			n, err := rpcStore.Read(gid, id, buf, offset, length)
			if err != nil {
				return err
			}
			if asHex {
				fmt.Println(hex.EncodeToString(buf[:n]))
			} else {
				fmt.Printf("%s\n", buf[:n])
			}
			return nil
		},
	}
	rmCmd = &cobra.Command{
		Use:   "rm [group] [id]",
		Short: "Removes a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, id, err := parseRecord(args[0], args[1])
			if err != nil {
				return err
			}
			if err := rpcStore.Remove(gid, id); err != nil {
				return err
			}
			fmt.Printf("removed record %d from group %d\n", id, gid)
			return nil
		},
	}
	lsCmd = &cobra.Command{
		Use:   "ls [group]",
		Short: "Lists the record ids of a group in ascending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := parseGroup(args[0])
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			limit = max(limit, 0)

			buf := make([]byte, limit*kstorage.IDSize)
			n, err := rpcStore.ListIDs(gid, buf, limit)
			if err != nil {
				return err
			}
			for _, id := range kstorage.DecodeIDs(buf, n) {
				fmt.Println(id)
			}
			return nil
		},
	}
	digestCmd = &cobra.Command{
		Use:   "digest [group]",
		Short: "Prints the BLAKE3 digest of a group's content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := parseGroup(args[0])
			if err != nil {
				return err
			}
			sum, err := rpcStore.Digest(gid)
			if err != nil {
				return err
			}
			fmt.Printf("group=%d, digest=%x\n", gid, sum)
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints statistics of the store as json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rpcStore.Info()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
)

func init() {
	writeCmd.Flags().String("file", "", "Read the value from this file")
	readCmd.Flags().Int("offset", 0, "Offset of the first byte to read")
	readCmd.Flags().Int("length", 1<<20, "Maximum number of bytes to read")
	readCmd.Flags().Bool("hex", false, "Print the bytes hex encoded")
	lsCmd.Flags().Int("limit", 1000, "Maximum number of ids to list")
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func parseGroup(arg string) (int, error) {
	gid, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("group must be a number: %w", err)
	}
	return gid, nil
}

func parseRecord(groupArg, idArg string) (int, int64, error) {
	gid, err := parseGroup(groupArg)
	if err != nil {
		return 0, 0, err
	}
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("id must be a number: %w", err)
	}
	return gid, id, nil
}
