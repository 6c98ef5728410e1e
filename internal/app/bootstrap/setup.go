package bootstrap

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"warden/internal/config"
	"warden/internal/database"
	"warden/internal/engine"
	"warden/internal/geo"
	"warden/internal/jobs/maintenance"
	"warden/internal/lookup"
	"warden/internal/trustednet"
)

// Runtime bundles the wired components so the caller can reach them and
// release their resources on shutdown.
type Runtime struct {
	Engine   *engine.Engine
	Registry *trustednet.Registry
	Lookup   *lookup.Client
	Geo      *geo.Resolver
}

func (r *Runtime) Close() {
	if r.Geo != nil {
		r.Geo.Close()
	}
}

// Setup reads settings, builds the engine and its collaborators, and starts
// the background sweepers. Storage attaches asynchronously: until the
// database is reachable the engine answers from fallbacks instead of
// blocking startup.
func Setup(ctx context.Context) *Runtime {
	config.ReadSettings()
	cfg := config.GetConfig()

	registry := trustednet.NewRegistry(nil,
		trustednet.WithCacheTTL(time.Duration(cfg.RangeCacheTTLSeconds)*time.Second))

	eng := engine.New(engine.Config{
		CacheCapacity: cfg.Cache.Capacity,
		CacheTTL:      time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		ReadyTimeout:  time.Duration(cfg.ReadyTimeoutSeconds) * time.Second,
		Registry:      registry,
	})

	resolver := geo.NewResolver(cfg.GeoLite.CountryDBPath, cfg.GeoLite.ASNDBPath)

	client := lookup.NewClient(eng, cfg.Reputation.APIURL, cfg.Reputation.APIKey,
		lookup.WithEndpoint(cfg.Reputation.Endpoint),
		lookup.WithThresholds(cfg.Reputation.BlockThreshold, cfg.Reputation.TrustThreshold),
		lookup.WithGeoResolver(resolver))

	go attachStorage(ctx, eng, cfg)

	go maintenance.StartReconcileRoutine(ctx, eng)
	go maintenance.StartExpirySweepRoutine(ctx, eng)

	return &Runtime{
		Engine:   eng,
		Registry: registry,
		Lookup:   client,
		Geo:      resolver,
	}
}

func attachStorage(ctx context.Context, eng *engine.Engine, cfg config.Config) {
	db, err := database.SetupDB()
	if err != nil {
		log.Error("Database setup failed, classification answers stay fail-open", "error", err)
		return
	}

	eng.AttachStore(database.NewStore(db))

	if err := eng.InitQuota(ctx, cfg.Quota); err != nil {
		log.Error("Quota init failed", "error", err)
	}

	log.Info("Storage attached", "quota_endpoints", len(cfg.Quota))
}
