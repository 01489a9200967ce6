package serve

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/kStorage/cmd/util"
	"github.com/ValentinKolb/kStorage/rpc/common"
	"github.com/ValentinKolb/kStorage/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the kStorage server",
		Long: `Start the kStorage server. Every shard is an independent store with its own groups.

Settings are read from (highest precedence first) command line flags, environment
variables (KSTORAGE_<FLAG>, e.g. KSTORAGE_LOG_LEVEL=debug), .env and .env.local files
and the JSONC file given with --config, whose keys are the flag names.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	flags := ServeCmd.PersistentFlags()

	flags.String("config", "", cmdUtil.WrapString("Optional JSONC config file, keys are flag names (e.g. {\"endpoint\": \":8080\", \"reclaim-mode\": \"sync\"})"))
	flags.String("shards", "1", cmdUtil.WrapString("Comma-separated list of shard ids to serve, each shard is an independent store"))
	flags.String("endpoint", "0.0.0.0:8080", cmdUtil.WrapString("The address on which the server will listen (e.g. localhost:8080, /tmp/kstorage.sock)"))
	flags.Int64("timeout", 5, cmdUtil.WrapString("Timeout in seconds for reading or writing a single frame, 0 disables it"))
	flags.String("log-level", "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
	flags.String("metrics-endpoint", "", cmdUtil.WrapString("Address of the Prometheus /metrics listener (e.g. :9090), empty disables it"))

	// store
	flags.String("reclaim-mode", "async", cmdUtil.WrapString("How replaced and removed records are freed: async (background reclaimer) or sync (the writer waits for readers)"))
	flags.Int64("reclaim-interval", 0, cmdUtil.WrapString("Interval in milliseconds of the background reclaimer, 0 uses the default"))
	flags.Int("reclaim-batch", 0, cmdUtil.WrapString("Number of retired objects that triggers an early grace period, 0 uses the default"))
	flags.Int64("memory-limit", 0, cmdUtil.WrapString("Memory limit per store in bytes, 0 means unlimited. Writes beyond it fail with out of memory"))

	// transport
	flags.Int("workers-per-conn", 16, cmdUtil.WrapString("Requests processed concurrently per connection (tcp, unix)"))
	flags.Int("buffer-size", 64, cmdUtil.WrapString("Size of the pooled request buffers in KB (tcp, unix)"))
	flags.Int("max-request-size", 64, cmdUtil.WrapString("Largest accepted request in MiB"))
	flags.Bool("tcp-nodelay", true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (tcp only)"))
	flags.Int("tcp-keepalive", 0, cmdUtil.WrapString("The keepalive idle time in seconds, 0 disables keepalive (tcp only)"))
	flags.Int("tcp-linger", -1, cmdUtil.WrapString("The linger time in seconds, negative keeps the OS default (tcp only)"))
	flags.Int("write-buffer", 0, cmdUtil.WrapString("Socket write buffer in KB, 0 keeps the OS default (tcp only)"))
	flags.Int("read-buffer", 0, cmdUtil.WrapString("Socket read buffer in KB, 0 keeps the OS default (tcp only)"))
}

// processConfig merges all configuration sources into serveCmdConfig
func processConfig(cmd *cobra.Command, _ []string) error {
	cmdUtil.InitConfig()
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	if path := viper.GetString("config"); path != "" {
		if err := cmdUtil.LoadConfigFile(path); err != nil {
			return err
		}
	}

	shards, err := parseShards(viper.GetString("shards"))
	if err != nil {
		return err
	}

	*serveCmdConfig = common.ServerConfig{
		Shards: shards,
		Store: common.StoreConfig{
			ReclaimMode:      viper.GetString("reclaim-mode"),
			ReclaimInterval:  viper.GetInt64("reclaim-interval"),
			ReclaimBatchSize: viper.GetInt("reclaim-batch"),
			MemoryLimit:      viper.GetInt64("memory-limit"),
		},
		Transport: common.ServerTransportConfig{
			Endpoint:          viper.GetString("endpoint"),
			WorkersPerConn:    viper.GetInt("workers-per-conn"),
			BufferSize:        viper.GetInt("buffer-size") * 1024,
			TCPNoDelay:        viper.GetBool("tcp-nodelay"),
			TCPKeepAliveSec:   viper.GetInt("tcp-keepalive"),
			TCPLingerSec:      viper.GetInt("tcp-linger"),
			WriteBufferSize:   viper.GetInt("write-buffer") * 1024,
			ReadBufferSize:    viper.GetInt("read-buffer") * 1024,
			MetricsEndpoint:   viper.GetString("metrics-endpoint"),
			MaxRequestSizeMiB: viper.GetInt("max-request-size"),
		},
		TimeoutSecond: viper.GetInt64("timeout"),
		LogLevel:      viper.GetString("log-level"),
	}

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// parseShards parses a comma-separated list of shard ids
func parseShards(list string) ([]common.ServerShard, error) {
	var shards []common.ServerShard
	seen := make(map[uint64]bool)
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shard ID %s: %v", part, err)
		}
		if seen[id] {
			return nil, fmt.Errorf("shard ID %d listed twice", id)
		}
		seen[id] = true
		shards = append(shards, common.ServerShard{ShardID: id})
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("no shards configured")
	}
	return shards, nil
}

// run starts the server and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	server.Logger.Infof("kStorage server configuration:%s", serveCmdConfig.String())
	serv := server.NewRPCServer(*serveCmdConfig, t, s)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		server.Logger.Infof("received %s, shutting down", sig)
		if err := serv.Close(); err != nil {
			server.Logger.Warningf("shutdown: %v", err)
		}
	}()

	return serv.Serve()
}
