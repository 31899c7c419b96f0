package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"fetchbot.ai/internal/persistence/archive"
	persistlog "fetchbot.ai/internal/persistence/log"
	"fetchbot.ai/internal/persistence/snapshot"
	"fetchbot.ai/internal/protocol"
	"fetchbot.ai/internal/sim/runner"
	"fetchbot.ai/internal/sim/scene"
	"fetchbot.ai/internal/sim/tuning"
	"fetchbot.ai/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:8080", "http listen address (empty to disable)")
		configDir  = flag.String("configs", "./configs", "config directory")
		scenePath  = flag.String("scene", "", "path to scene.yaml (default: <configs>/scene.yaml, built-in yard if missing)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		ticks      = flag.Int("ticks", 0, "run this many fixed steps without wall-clock pacing, then exit")
		auto       = flag.Bool("auto", false, "issue the next command whenever the agent is idle")
		stateEvery = flag.Uint64("state_every", 10, "write a state snapshot every N ticks (0 disables)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite delivery index")
		noSnapshot = flag.Bool("no_snapshot", false, "skip the end-of-session snapshot")
		voiceClip  = flag.Duration("voice_clip", 0, "length of the spoken command clip (0: short fallback wait)")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[fetchsim] ", log.LstdFlags|log.Lmicroseconds)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	simLog := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	tune := loadTuning(*configDir, *tuningPath, logger)
	sc := loadScene(*configDir, *scenePath, logger)

	eventLog := persistlog.NewEventLogger(*dataDir)
	defer eventLog.Close()
	sinks := protocol.EventSinks{eventLog}

	idx, err := openIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		sinks = append(sinks, idx)
	}

	w, ctl, err := runner.Assemble(sc, tune, sinks, simLog)
	if err != nil {
		logger.Fatalf("assemble: %v", err)
	}

	var states runner.StateWriter
	if *stateEvery > 0 {
		sl := persistlog.NewStateLogger(*dataDir)
		defer sl.Close()
		states = sl
	}

	r, err := runner.New(runner.Config{
		World:        w,
		Controller:   ctl,
		Tick:         tune.TickDuration(),
		CommandDelay: tune.CommandDelay(),
		VoiceClip:    *voiceClip,
		Auto:         *auto,
		StateEvery:   *stateEvery,
		States:       states,
		Logger:       simLog,
	})
	if err != nil {
		logger.Fatalf("runner: %v", err)
	}
	logger.Printf("session=%s scene=%s targets=%d tick=%s", r.Session(), sc.Name, ctl.Remaining(), tune.TickDuration())

	if idx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := idx.StartSession(ctx, r.Session(), sc.Name, ctl.Remaining(), tune); err != nil {
			logger.Printf("index: start session: %v", err)
		}
		cancel()
	}

	if *ticks > 0 {
		runHeadless(r, *ticks, tune.TickDuration(), logger)
		if err := eventLog.Err(); err != nil {
			logger.Printf("event log: %v", err)
		}
		if !*noSnapshot {
			writeSnapshot(r, sc.Name, *dataDir, logger)
		}
		return
	}

	ctx, cancel := signalContext()
	defer cancel()

	var srv *http.Server
	if strings.TrimSpace(*addr) != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(200)
			_, _ = rw.Write([]byte("ok"))
		})
		obs := observer.NewServer(r, logger)
		obs.Routes(mux)
		mux.HandleFunc("/metrics", metricsHandler(r, obs, idx))

		srv = &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Printf("listening on %s", *addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("http: %v", err)
				cancel()
			}
		}()
	}

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("runner stopped: %v", err)
	}

	if srv != nil {
		shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 3*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel2()
	}
	st := r.State()
	logger.Printf("stopped tick=%d remaining=%d delivered=%v", st.Tick, st.Remaining, st.Delivered)
	if !*noSnapshot {
		writeSnapshot(r, sc.Name, *dataDir, logger)
	}
}

// writeSnapshot must run after the loop has stopped.
func writeSnapshot(r *runner.Runner, sceneName, dataDir string, logger *log.Logger) {
	snap := r.Snapshot(sceneName)
	path := filepath.Join(dataDir, "snapshots", snapshot.FileName(snap))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		logger.Printf("snapshot write: %v", err)
		return
	}
	logger.Printf("snapshot %s", path)

	if dst, ok, err := archive.ArchiveCompletedSession(dataDir, path, snap); err != nil {
		logger.Printf("archive session: %v", err)
	} else if ok {
		logger.Printf("archived %s", dst)
	}
}

func runHeadless(r *runner.Runner, n int, dt time.Duration, logger *log.Logger) {
	var st protocol.StateMsg
	for i := 0; i < n; i++ {
		st = r.Step(dt)
	}
	logger.Printf("headless run done tick=%d phase=%s remaining=%d delivered=%v", st.Tick, st.Phase, st.Remaining, st.Delivered)
}

func loadTuning(configDir, path string, logger *log.Logger) tuning.Tuning {
	tp := strings.TrimSpace(path)
	explicit := tp != ""
	if !explicit {
		tp = filepath.Join(configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			return tuning.Defaults()
		}
		logger.Fatalf("load tuning: %v", err)
	}
	return tune
}

func loadScene(configDir, path string, logger *log.Logger) scene.Scene {
	sp := strings.TrimSpace(path)
	explicit := sp != ""
	if !explicit {
		sp = filepath.Join(configDir, "scene.yaml")
	}
	sc, err := scene.Load(sp)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			logger.Printf("scene not found (%s); using built-in yard", sp)
			return scene.Default()
		}
		logger.Fatalf("load scene: %v", err)
	}
	return sc
}

func metricsHandler(r *runner.Runner, obs *observer.Server, idx indexBackend) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		st := r.State()
		session := r.Session()

		fmt.Fprintf(rw, "# HELP fetchbot_tick Current simulation tick.\n")
		fmt.Fprintf(rw, "# TYPE fetchbot_tick gauge\n")
		fmt.Fprintf(rw, "fetchbot_tick{session=%q} %d\n", session, st.Tick)

		fmt.Fprintf(rw, "# HELP fetchbot_remaining Targets not yet delivered.\n")
		fmt.Fprintf(rw, "# TYPE fetchbot_remaining gauge\n")
		fmt.Fprintf(rw, "fetchbot_remaining{session=%q} %d\n", session, st.Remaining)

		fmt.Fprintf(rw, "# HELP fetchbot_observers Open observer websockets.\n")
		fmt.Fprintf(rw, "# TYPE fetchbot_observers gauge\n")
		fmt.Fprintf(rw, "fetchbot_observers{session=%q} %d\n", session, obs.Conns())

		fmt.Fprintf(rw, "# HELP fetchbot_state_dropped_total Snapshots dropped for slow observers.\n")
		fmt.Fprintf(rw, "# TYPE fetchbot_state_dropped_total counter\n")
		fmt.Fprintf(rw, "fetchbot_state_dropped_total{session=%q} %d\n", session, r.Dropped())

		if idx != nil {
			s := idx.Stats()
			fmt.Fprintf(rw, "# HELP fetchbot_index_queue_depth Delivery index backlog.\n")
			fmt.Fprintf(rw, "# TYPE fetchbot_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "fetchbot_index_queue_depth{session=%q} %d\n", session, s.QueueDepth)
			fmt.Fprintf(rw, "# HELP fetchbot_index_dropped_total Events the index dropped.\n")
			fmt.Fprintf(rw, "# TYPE fetchbot_index_dropped_total counter\n")
			fmt.Fprintf(rw, "fetchbot_index_dropped_total{session=%q} %d\n", session, s.DropEventTotal)
		}
	}
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
