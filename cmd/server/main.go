package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"guildhall.gg/internal/config"
	"guildhall.gg/internal/guild"
	"guildhall.gg/internal/persistence/backup"
	"guildhall.gg/internal/persistence/cache"
	persistlog "guildhall.gg/internal/persistence/log"
	"guildhall.gg/internal/persistence/storage"
	"guildhall.gg/internal/transport/observer"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/config.yaml", "config path")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		levelsPath = flag.String("levels", "./configs/levels.json", "level table path")
		schemaPath = flag.String("levels_schema", "./schemas/guild_levels.schema.json", "level table schema path")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[guildhall] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(*addr) != "" {
		cfg.ListenAddr = *addr
	}
	if strings.TrimSpace(*dataDir) != "" {
		cfg.DataDir = *dataDir
	}
	_ = os.MkdirAll(cfg.DataDir, 0o755)

	levels, err := config.LoadLevels(*levelsPath, *schemaPath)
	if err != nil {
		logger.Fatalf("load levels: %v", err)
	}

	var backend storage.Backend
	switch cfg.Storage.Backend {
	case "sqlite":
		backend, err = storage.OpenSQL(storage.SQLOptions{
			Path:        cfg.Storage.SQLite.Path,
			PoolSize:    cfg.Storage.SQLite.PoolSize,
			BusyTimeout: time.Duration(cfg.Storage.SQLite.BusyTimeoutMS) * time.Millisecond,
		}, logger)
	default:
		backend, err = storage.NewFileStore(filepath.Join(cfg.DataDir, "guilds"), logger)
	}
	if err != nil {
		logger.Fatalf("open %s backend: %v", cfg.Storage.Backend, err)
	}
	defer backend.Close()

	store := cache.New(backend, levels, logger)
	auditLog := persistlog.NewTerritoryLogger(cfg.DataDir)
	defer auditLog.Close()
	store.OnSaveError = func(name string, err error) {
		_ = auditLog.WriteAudit(guild.AuditEntry{
			TS:     time.Now().UTC().Format(time.RFC3339Nano),
			Action: "PERSIST_ERROR",
			Guild:  name,
			Detail: err.Error(),
		})
	}

	bak := backup.New(filepath.Join(cfg.DataDir, "backups"),
		cfg.Backup.KeepMin,
		time.Duration(cfg.Backup.MaxAgeDays)*24*time.Hour,
		logger)

	// All guild mutation runs on the control loop goroutine; observers and
	// the backup loop dispatch closures into it.
	calls := make(chan func(), 256)

	var obs *observer.Server
	mgr := guild.NewManager(guild.Deps{
		Levels:                  levels,
		Log:                     logger,
		MarkDirty:               store.MarkDirty,
		DeletePersisted:         store.DeletePersisted,
		RenamePersisted:         store.RenamePersisted,
		MarkAllianceDirty:       store.MarkAllianceDirty,
		DeleteAlliancePersisted: store.DeleteAlliancePersisted,
		Audit:                   auditLog,
		Notify: func(ev guild.Event) {
			if obs != nil {
				obs.Publish(ev)
			}
		},
		// Lifecycle snapshots are queued; the backup worker does the file
		// I/O off the control loop.
		OnCreate: bak.Enqueue,
		OnDelete: bak.Enqueue,
	})

	// Warm-up before the control loop starts: every persisted guild loaded
	// and indexed, so the first query hits memory only.
	loaded, err := store.Bootstrap()
	if err != nil {
		logger.Fatalf("bootstrap: %v", err)
	}
	mgr.Bootstrap(loaded)
	allies, err := store.BootstrapAlliances()
	if err != nil {
		logger.Fatalf("bootstrap alliances: %v", err)
	}
	mgr.BootstrapAlliances(allies)
	logger.Printf("loaded %d guilds, %d alliances (backend=%s)", len(loaded), len(allies), cfg.Storage.Backend)

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-calls:
				fn()
			}
		}
	}()

	obs = observer.NewServer(&managerDirectory{calls: calls, mgr: mgr}, logger)

	go store.Run(ctx, time.Duration(cfg.Flush.IntervalSecs)*time.Second)
	go bak.RunWorker(ctx)
	if cfg.Backup.Enabled {
		go bak.Run(ctx, time.Duration(cfg.Backup.IntervalMins)*time.Minute, func() []storage.RecordV1 {
			var recs []storage.RecordV1
			done := make(chan struct{})
			select {
			case calls <- func() { recs = mgr.Records(); close(done) }:
				<-done
			case <-ctx.Done():
			}
			return recs
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	obs.Routes(mux)
	if envBool("GH_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Orderly shutdown: the control loop has stopped with ctx, so manager
	// state is quiescent. Snapshot everything, then drain the write-behind
	// queue so no committed mutation is lost.
	if cfg.Backup.Enabled {
		logger.Printf("shutdown: wrote %d snapshots", bak.SnapshotAll(mgr.Records()))
	}
	if remaining := store.FlushAll(); remaining > 0 {
		logger.Printf("shutdown: %d dirty entries could not be flushed", remaining)
	}
	logger.Printf("shutdown complete")
}

// managerDirectory answers observer queries by dispatching onto the control
// loop, so handler goroutines never touch manager maps directly.
type managerDirectory struct {
	calls chan func()
	mgr   *guild.Manager
}

func (d *managerDirectory) dispatch(fn func()) bool {
	done := make(chan struct{})
	select {
	case d.calls <- func() { fn(); close(done) }:
	case <-time.After(2 * time.Second):
		return false
	}
	select {
	case <-done:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func (d *managerDirectory) GuildSnapshot(name string) (storage.RecordV1, bool) {
	var rec storage.RecordV1
	var ok bool
	if !d.dispatch(func() {
		if g := d.mgr.ByName(name); g != nil {
			rec = g.Record()
			ok = true
		}
	}) {
		return storage.RecordV1{}, false
	}
	return rec, ok
}

func (d *managerDirectory) PlayerGuild(player string) (storage.RecordV1, bool) {
	id, err := uuid.Parse(player)
	if err != nil {
		return storage.RecordV1{}, false
	}
	var rec storage.RecordV1
	var ok bool
	if !d.dispatch(func() {
		if g := d.mgr.ByPlayer(id); g != nil {
			rec = g.Record()
			ok = true
		}
	}) {
		return storage.RecordV1{}, false
	}
	return rec, ok
}

func (d *managerDirectory) CellOwner(key guild.ChunkKey) (string, bool) {
	var name string
	var ok bool
	if !d.dispatch(func() {
		if g := d.mgr.ByCell(key); g != nil {
			name = g.Name()
			ok = true
		}
	}) {
		return "", false
	}
	return name, ok
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
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
