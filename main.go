package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"strings"

	"os/signal"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/go-concord/concord/comm"
	"github.com/go-concord/concord/config"
	"github.com/go-concord/concord/crdt"
	"github.com/go-concord/concord/gossip"
	"github.com/go-concord/concord/node"
	"github.com/go-concord/concord/storage"
)

// Functions

// initLogger initializes a JSON gokit-logger set
// to the according log level supplied via cli flag.
func initLogger(loglevel string) log.Logger {

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowDebug())
	}

	return logger
}

// initReplicaID resolves the stable replica identity of this process.
// An identity pinned in the environment wins; without one a fresh
// identity is minted, which is only acceptable for nodes without a
// persistent operation log.
func initReplicaID(env *config.Env, conf *config.Config) crdt.ReplicaID {

	if (env != nil) && (env.ReplicaID != "") {
		return crdt.ReplicaID(env.ReplicaID)
	}

	if conf.Node.Name != "" {
		return crdt.ReplicaID(conf.Node.Name)
	}

	return crdt.NewReplicaID()
}

func main() {

	var err error

	// Set CPUs usable by concord to all available.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Parse command-line flag that defines a config path.
	configFlag := flag.String("config", "config.toml", "Provide path to configuration file in TOML syntax.")
	loglevelFlag := flag.String("loglevel", "", "This flag sets the default logging level, overriding the configured one.")
	flag.Parse()

	// Read configuration from file.
	conf, err := config.LoadConfig(*configFlag)
	if err != nil {
		logger := initLogger("debug")
		level.Error(logger).Log(
			"msg", "failed to load the config", "err", err,
		)
		os.Exit(1)
	}

	loglevel := conf.Node.LogLevel
	if *loglevelFlag != "" {
		loglevel = *loglevelFlag
	}
	logger := initLogger(loglevel)

	// The .env file is optional; a missing one simply
	// leaves the replica identity to the config.
	env, _ := config.LoadEnv()

	replica := initReplicaID(env, conf)

	// Open the operation log, persistent under the configured
	// root or in memory without one.
	oplog, err := storage.NewBadgerLog(conf.Node.LogRoot)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to open the operation log",
			"err", err,
		)
		os.Exit(2)
	}
	defer oplog.Close()

	// Initialize the local node and recover committed
	// operations from the log.
	n := node.New(log.With(logger, "component", "node"), replica, oplog)

	if err := n.Replay(); err != nil {
		level.Error(logger).Log(
			"msg", "failed to replay the operation log",
			"err", err,
		)
		os.Exit(3)
	}

	// Connect to the configured peer set.
	transport, err := comm.NewTCPTransport(
		log.With(logger, "component", "transport"),
		conf.Node.Name,
		conf.Node.ListenSyncAddr,
		conf.PeerTable(),
	)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to open the sync transport",
			"err", err,
		)
		os.Exit(4)
	}
	defer transport.Close()

	n.AttachTransport(transport, conf.Gossip.Topic)

	metrics := NewConcordMetrics(conf.Node.PrometheusAddr)

	// Wire the synchronizer behind logging and metrics
	// middleware and hand it to the scheduler.
	var sync gossip.Service
	sync = gossip.NewSynchronizer(
		log.With(logger, "component", "synchronizer"),
		n,
		transport,
		conf.Gossip.Topic,
	)
	sync = gossip.NewLoggingService(sync, log.With(logger, "component", "gossip"))
	sync = gossip.NewMetricsService(sync, metrics.Gossip.Rounds, metrics.Gossip.Failed)

	scheduler := gossip.NewScheduler(
		log.With(logger, "component", "scheduler"),
		sync,
		conf.PeerNames(),
		conf.Gossip.Interval(),
		conf.Gossip.Timeout(),
		conf.Gossip.Fanout,
	)

	go runPromHTTP(logger, conf.Node.PrometheusAddr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	level.Info(logger).Log(
		"msg", "node running",
		"replica", replica,
		"listen", conf.Node.ListenSyncAddr,
		"peers", len(conf.Peers),
	)

	// Drive anti-entropy until interrupted.
	scheduler.Run(ctx)
}
