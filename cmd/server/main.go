package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/algernon-A/TransferController-sub001/internal/persistence/container"
	"github.com/algernon-A/TransferController-sub001/internal/persistence/indexdb"
	persistlog "github.com/algernon-A/TransferController-sub001/internal/persistence/log"
	"github.com/algernon-A/TransferController-sub001/internal/persistence/r2s3"
	"github.com/algernon-A/TransferController-sub001/internal/sim/controller"
	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
	"github.com/algernon-A/TransferController-sub001/internal/sim/tuning"
	"github.com/algernon-A/TransferController-sub001/internal/transport/observer"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		configDir    = flag.String("configs", "./configs", "config directory")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		scenarioPath = flag.String("scenario", "", "path to scenario.yaml (default: <configs>/scenario.yaml)")
		savePath     = flag.String("save", "", "save container to load (optional)")
		loadLatest   = flag.Bool("load_latest_save", true, "load the latest save from the data dir if present (when -save is empty)")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite outcome index")
		tripTicks    = flag.Uint64("trip_ticks", 20, "ticks a dispatched sandbox vehicle stays out")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	sp := strings.TrimSpace(*scenarioPath)
	if sp == "" {
		sp = filepath.Join(*configDir, "scenario.yaml")
	}
	scen, err := host.LoadScenario(sp)
	if err != nil {
		logger.Fatalf("load scenario: %v", err)
	}
	city, err := scen.Build()
	if err != nil {
		logger.Fatalf("build scenario: %v", err)
	}
	logger.Printf("scenario=%s buildings=%d", filepath.Base(sp), len(city.BuildingIDs()))

	ctx, cancel := signalContext()
	defer cancel()

	mirror, err := buildMirror(ctx, *dataDir, log.New(os.Stdout, "[r2] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("r2 mirror: %v", err)
	}
	if mirror != nil {
		logger.Printf("r2 mirror enabled")
	}

	idx, err := openIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("index: %v", err)
	}
	if idx != nil {
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index tuning: %v", err)
		}
	}

	saveDir := filepath.Join(*dataDir, "saves")
	out := &sinks{
		outcomes: persistlog.NewOutcomeLogger(*dataDir, "", persistlog.WithOnClose(mirror.Enqueue)),
		failures: persistlog.NewFailureLogger(*dataDir, persistlog.WithOnClose(mirror.Enqueue)),
		idx:      idx,
		mirror:   mirror,
		log:      logger,
	}

	c := controller.New(city, tune, log.New(os.Stdout, "[controller] ", log.LstdFlags|log.Lmicroseconds), controller.Options{
		OnSave:    out.saved,
		SaveDir:   saveDir,
		TripTicks: *tripTicks,
	})
	out.obs = observer.NewServer(bootstrapFor(c), log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))
	out.attach(c)

	toLoad := strings.TrimSpace(*savePath)
	if toLoad == "" && *loadLatest {
		if toLoad, err = container.Latest(saveDir); err != nil {
			logger.Printf("scan saves: %v", err)
		}
	}
	if toLoad != "" && c.Enabled() {
		if rep, err := c.LoadFile(toLoad); err != nil {
			logger.Printf("load save %s: %v; starting a new session", toLoad, err)
		} else {
			logger.Printf("resumed from save=%s tick=%d version=%d restrictions=%d warehouses=%d vehicles=%d diagnostics=%d",
				filepath.Base(toLoad), c.Tick(), rep.Version, rep.Restrictions, rep.Warehouses, rep.Vehicles, len(rep.Diagnostics))
		}
	}
	out.sessionChanged(c.Session())
	logger.Printf("session=%s enabled=%v tick_rate_hz=%d", c.Session(), c.Enabled(), c.Tuning().TickRateHz)

	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx, city, city) }()

	reg := prometheus.NewRegistry()
	var indexStats func() indexdb.QueueStats
	if idx != nil {
		indexStats = idx.Stats
	}
	var mirrorStats func() r2s3.Stats
	if mirror != nil {
		mirrorStats = mirror.Stats
	}
	reg.MustRegister(newCollector(c.Metrics, indexStats, mirrorStats))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	enableAdmin := envBool("TC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	a := &api{c: c, saveDir: saveDir, onSave: out.saved, log: logger}
	a.register(mux, enableAdmin)
	if !enableAdmin {
		logger.Printf("admin endpoints disabled (TC_ENABLE_ADMIN_HTTP=false)")
	}
	mux.HandleFunc("/v1/observe/bootstrap", out.obs.BootstrapHandler())
	mux.HandleFunc("/v1/observe/ws", out.obs.WSHandler())
	if envBool("TC_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("controller stopped: %v", err)
	}
	shutdown(c, saveDir, out, logger)
}

// shutdown writes a final save after Run has returned, then flushes the
// logs, the index and the mirror in that order.
func shutdown(c *controller.Controller, saveDir string, out *sinks, logger *log.Logger) {
	if c.Enabled() {
		path := container.PathFor(saveDir, c.Tick())
		info, err := c.SaveFile(path)
		if err != nil {
			logger.Printf("final save: %v", err)
		} else {
			logger.Printf("final save tick=%d path=%s", info.Tick, path)
			out.saved(path, info)
		}
	}
	out.closeLogs()
	if out.idx != nil {
		if err := out.idx.Close(); err != nil {
			logger.Printf("close index: %v", err)
		}
	}
	out.mirror.Close()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
