// Command router runs one routing-tier node: the gossip-convergent ring
// membership loop, the hot/cold placement-aware dispatcher, and a small
// read-only admin status surface, per spec §6 "deployment".
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geogrid/routingtier/pkg/catalog"
	"github.com/geogrid/routingtier/pkg/config"
	"github.com/geogrid/routingtier/pkg/dispatcher"
	"github.com/geogrid/routingtier/pkg/gossip"
	"github.com/geogrid/routingtier/pkg/ring"
	"github.com/geogrid/routingtier/pkg/routeerr"
)

// Exit codes per spec §6: 0 clean shutdown, 1 startup failure, 2 invalid
// configuration.
const (
	exitOK            = 0
	exitStartupFailed = 1
	exitBadConfig     = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var cfg config.Config
	var configFile string
	var adminAddr string
	var memberlistAddr string
	var memberlistPort int
	var useMemberlist bool

	fs := flag.NewFlagSet("router", flag.ContinueOnError)
	fs.StringVar(&configFile, "config-file", "", "Path to a YAML config file; flags override its values.")
	fs.StringVar(&adminAddr, "admin-addr", ":9100", "Address for the read-only admin/status HTTP surface.")
	fs.StringVar(&memberlistAddr, "memberlist-bind-addr", "0.0.0.0", "Bind address for the memberlist gossip transport.")
	fs.IntVar(&memberlistPort, "memberlist-bind-port", 7946, "Bind port for the memberlist gossip transport.")
	fs.BoolVar(&useMemberlist, "use-memberlist-transport", true, "Use hashicorp/memberlist for peer discovery/unicast instead of the raw-TCP fallback transport.")
	cfg.RegisterFlags(fs)

	if err := fs.Parse(os.Args[1:]); err != nil {
		return exitBadConfig
	}
	if err := cfg.LoadFile(configFile); err != nil {
		level.Error(logger).Log("msg", "failed to load config file", "err", err)
		return exitBadConfig
	}
	// Re-parse so CLI flags win over file values (spec §6 "flags override
	// the file").
	if err := fs.Parse(os.Args[1:]); err != nil {
		return exitBadConfig
	}
	if err := cfg.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		return exitBadConfig
	}

	reg := prometheus.NewRegistry()

	cat, err := catalog.Open(cfg.Catalog.DSN, cfg.Catalog.MaxOpenConns)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open catalog", "err", err)
		return exitStartupFailed
	}
	if err := cat.Migrate(cfg.Catalog.MigrationsPath); err != nil {
		level.Error(logger).Log("msg", "failed to migrate catalog", "err", err)
		return exitStartupFailed
	}

	selfAddr := fmt.Sprintf("%s:%d", cfg.Ring.ListenIP, cfg.Ring.ListenPort)
	self := ring.RouterNode{
		ID:       uuid.New(),
		Address:  selfAddr,
		HashID:   ring.HashAddress(selfAddr),
		Priority: cfg.Ring.Priority,
		IsActive: true,
	}

	ringMgr := ring.NewManager(logger, reg, ring.Empty)
	ringMgr.Insert(self, time.Now())

	seedAddrs, err := seedRingFromCatalog(cat, ringMgr)
	if err != nil {
		level.Error(logger).Log("msg", "failed to seed ring from catalog", "err", err)
		return exitStartupFailed
	}
	seedAddrs = append(seedAddrs, cfg.Gossip.SeedAddrs...)

	selfRouterID, err := cat.InsertRoutingServer(context.Background(), catalog.RoutingServerInsert{
		Address:  selfAddr,
		Priority: cfg.Ring.Priority,
	})
	if err != nil {
		level.Warn(logger).Log("msg", "failed to register self in routing_servers", "err", err)
	}

	selfRecord := gossip.Record{
		ID:       self.ID,
		Address:  self.Address,
		HashID:   self.HashID,
		Priority: self.Priority,
		LastSeen: time.Now().UnixNano(),
	}
	sm := gossip.NewStateMachine(selfRecord, cfg.Gossip.FailureTimeout(), cfg.Gossip.ForgetTimeout(), ringMgr)

	var transport gossip.PeerTransport
	if useMemberlist {
		transport, err = gossip.NewMemberlistTransport(self.ID.String(), memberlistAddr, memberlistPort, seedAddrs)
	} else {
		transport, err = gossip.NewTCPTransport(selfAddr)
	}
	if err != nil {
		level.Error(logger).Log("msg", "failed to start gossip transport", "err", err)
		return exitStartupFailed
	}
	defer transport.Close()

	gossipLoop := gossip.NewLoop(sm, transport, cfg.Gossip.Interval(), cfg.Gossip.FanoutPeers, logger, reg)

	relay := dispatcher.NewRelay(cfg.Dispatcher.ConnectTimeout(), cfg.Dispatcher.ReadTimeout(), cfg.Dispatcher.StoragePort)
	handlers := &dispatcher.Handlers{
		Catalog:    cat,
		RingMgr:    ringMgr,
		GossipLoop: gossipLoop,
		GossipSM:   sm,
		Relay:      relay,
		Logger:     logger,
	}

	srv, err := dispatcher.NewServer(selfAddr, cfg.Dispatcher.WorkersCount, cfg.Dispatcher.QueueCapacity, handlers, logger, reg)
	if err != nil {
		level.Error(logger).Log("msg", "failed to start dispatcher", "err", err)
		return exitStartupFailed
	}
	defer srv.Close()

	adminRouter := mux.NewRouter()
	ring.RegisterStatusRoutes(adminRouter, ringMgr)
	adminRouter.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	adminSrv := &http.Server{Addr: adminAddr, Handler: adminRouter}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go gossipLoop.Run(ctx)
	go func() {
		level.Info(logger).Log("msg", "admin surface listening", "addr", adminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Warn(logger).Log("msg", "admin surface stopped", "err", err)
		}
	}()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-serveErrCh:
		if err != nil {
			level.Error(logger).Log("msg", "dispatcher accept loop failed", "err", err)
			return exitStartupFailed
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	adminSrv.Shutdown(shutdownCtx)

	if selfRouterID != 0 {
		if err := cat.DeleteRoutingServer(shutdownCtx, selfRouterID); err != nil {
			level.Debug(logger).Log("msg", "best-effort routing_servers cleanup skipped", "err", err)
		}
	}

	level.Info(logger).Log("msg", "shutdown complete")
	return exitOK
}

// seedRingFromCatalog loads existing routing_servers rows into ringMgr so a
// restarted node rejoins with full membership knowledge instead of relying
// solely on gossip convergence, and returns their addresses as memberlist
// seeds.
func seedRingFromCatalog(cat *catalog.Client, ringMgr *ring.Manager) ([]string, error) {
	rows, err := cat.GetAllRoutingServers(context.Background())
	if err != nil {
		return nil, routeerr.Wrap(routeerr.Fatal, err, "loading routing_servers for ring seed")
	}
	addrs := make([]string, 0, len(rows))
	for _, row := range rows {
		ringMgr.Insert(ring.RouterNode{
			ID:       uuid.New(),
			Address:  row.Address,
			HashID:   ring.HashAddress(row.Address),
			Priority: row.Priority,
			IsActive: true,
		}, time.Now())
		addrs = append(addrs, row.Address)
	}
	return addrs, nil
}
