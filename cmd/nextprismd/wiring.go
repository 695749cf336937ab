package main

import (
	"context"
	"os"
	"strings"
	"time"

	dockerclient "github.com/docker/docker/client"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/LoopeyTheGreat/next-prism/internal/dedup"
	"github.com/LoopeyTheGreat/next-prism/internal/discovery"
	"github.com/LoopeyTheGreat/next-prism/internal/executor"
	"github.com/LoopeyTheGreat/next-prism/internal/model"
	"github.com/LoopeyTheGreat/next-prism/internal/orchestrator"
	"github.com/LoopeyTheGreat/next-prism/internal/proxy"
	"github.com/LoopeyTheGreat/next-prism/internal/queue"
	"github.com/LoopeyTheGreat/next-prism/internal/sshpool"
	"github.com/LoopeyTheGreat/next-prism/internal/stats"
	"github.com/LoopeyTheGreat/next-prism/internal/syncengine"
	"github.com/LoopeyTheGreat/next-prism/internal/watch"
)

// stack is every long-lived collaborator the run/rescan/stats commands need,
// assembled once from an AppConfig. Construction order follows spec.md §9's
// "break by construction order J->F->G->H->I->{A,B,C,D,E}" redesign note:
// the executor and its transports are built before the engine and
// orchestrator that depend on them.
type stack struct {
	folders []*model.MonitoredFolder
	q       *queue.Queue
	engine  *syncengine.Engine
	exec    *executor.Executor
	stats   *stats.Bag
	orch    *orchestrator.Orchestrator
}

func buildStack(cfg *AppConfig) (*stack, error) {
	folders, err := buildFolders(cfg)
	if err != nil {
		return nil, err
	}

	statsBag := stats.New()

	cache := dedup.New()
	if err := cache.LoadFromDirectory(cfg.ImportDir); err != nil {
		return nil, errors.Wrap(err, "seeding dedup cache from import directory")
	}

	exec, err := buildExecutor(cfg)
	if err != nil {
		return nil, err
	}

	engine := syncengine.New(syncengine.Config{ImportDir: cfg.ImportDir}, cache)

	q := queue.New(cfg.Queue.Capacity)
	if cfg.Queue.SnapshotPath != "" {
		byPath := make(map[string]*model.MonitoredFolder, len(folders))
		for _, f := range folders {
			byPath[f.Path] = f
		}
		if err := q.Load(cfg.Queue.SnapshotPath, byPath); err != nil {
			return nil, errors.Wrap(err, "loading queue snapshot")
		}
	}

	orchCfg := orchestrator.Config{
		BatchSize:    cfg.Orchestrator.BatchSize,
		BatchTimeout: cfg.Orchestrator.BatchTimeout,
		MaxRetries:   cfg.Orchestrator.MaxRetries,
		Workers:      cfg.Orchestrator.Workers,
		ImportPath:   cfg.ImportDir,
		AlbumsPath:   cfg.Orchestrator.AlbumsPath,
	}
	// Watchers need the Orchestrator's EnqueueStable callback, so it is
	// constructed first with no watchers, then SetWatchers wires them back
	// in once they exist.
	orch := orchestrator.New(orchCfg, nil, q, engine, exec, statsBag)

	watchers, err := buildWatchers(folders, cfg.Watch.Debounce, orch.EnqueueStable())
	if err != nil {
		return nil, err
	}
	orch.SetWatchers(watchers)

	return &stack{
		folders: folders,
		q:       q,
		engine:  engine,
		exec:    exec,
		stats:   statsBag,
		orch:    orch,
	}, nil
}

func buildFolders(cfg *AppConfig) ([]*model.MonitoredFolder, error) {
	extensions := extensionSet(cfg.Extensions)

	var folders []*model.MonitoredFolder
	if cfg.DataRoot != "" {
		users, err := discovery.Enumerate(cfg.DataRoot, cfg.Include, cfg.Exclude)
		if err != nil {
			return nil, errors.Wrap(err, "enumerating Nextcloud users")
		}
		folders = append(folders, discovery.ToMonitoredFolders(users, extensions, cfg.ArchiveOnMove)...)
	}

	for _, cf := range cfg.CustomFolders {
		enabled := true
		if cf.Enabled != nil {
			enabled = *cf.Enabled
		}
		folders = append(folders, &model.MonitoredFolder{
			Path:          cf.Path,
			Kind:          model.FolderKindCustom,
			Enabled:       enabled,
			Cron:          cf.Cron,
			ArchiveOnMove: cf.ArchiveOnMove,
			ArchiveRoot:   cf.ArchiveRoot,
			Extensions:    extensions,
		})
	}

	return folders, nil
}

func extensionSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		set[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return set
}

func buildWatchers(folders []*model.MonitoredFolder, debounce time.Duration, onStable watch.StableFunc) ([]*watch.Watcher, error) {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	watchers := make([]*watch.Watcher, 0, len(folders))
	for _, f := range folders {
		if !f.Enabled {
			continue
		}
		w, err := watch.New(f, debounce, onStable)
		if err != nil {
			return nil, errors.Wrapf(err, "installing watcher for %s", f.Path)
		}
		watchers = append(watchers, w)
	}
	return watchers, nil
}

func buildExecutor(cfg *AppConfig) (*executor.Executor, error) {
	mode, err := parseMode(cfg.Executor.Mode)
	if err != nil {
		return nil, err
	}

	execCfg := executor.Config{
		Mode:          mode,
		ContainerName: cfg.Executor.ContainerName,
		SSHUser:       cfg.Executor.SSHUser,
	}

	var disc *proxy.Discovery
	var pool *sshpool.Pool
	docker, err := maybeDockerClient(mode)
	if err != nil {
		return nil, err
	}

	// Cluster transport is only needed when it will actually be used: in
	// ModeCluster always, in ModeAuto only if no local engine was found.
	if mode == executor.ModeCluster || (mode == executor.ModeAuto && docker == nil) {
		disc = proxy.New(staticServiceLister(cfg.Proxy.Services), nil, orDefault(cfg.Proxy.CacheTTL, proxy.DefaultCacheTTL), orDefaultInt(cfg.Proxy.MaxErrors, proxy.DefaultMaxErrors), orDefault(cfg.Proxy.HealthTimeout, 2*time.Second))

		signer, err := loadSigner(cfg.Executor.SSHPrivateKeyPath)
		if err != nil {
			return nil, err
		}
		pool = sshpool.New(
			cfg.Executor.SSHUser,
			signer,
			orDefaultInt(cfg.SSHPool.MaxConnections, sshpool.DefaultMaxConnections),
			orDefault(cfg.SSHPool.IdleTimeout, sshpool.DefaultIdleTimeout),
			orDefaultInt(cfg.SSHPool.MaxRetries, sshpool.DefaultMaxRetries),
			orDefault(cfg.SSHPool.DialTimeout, 10*time.Second),
		)
	}

	return executor.New(execCfg, docker, disc, pool), nil
}

func maybeDockerClient(mode executor.Mode) (*dockerclient.Client, error) {
	if mode == executor.ModeCluster {
		return nil, nil
	}
	client, err := executor.NewLocalDockerClient()
	if err != nil {
		if mode == executor.ModeLocal {
			return nil, errors.Wrap(err, "connecting to local container engine")
		}
		// ModeAuto: fall back to cluster transport when no local engine is
		// reachable (spec.md §4.F: "auto-detection fallback").
		return nil, nil
	}
	if mode == executor.ModeAuto {
		// Constructing the client does not contact the engine; ping it so an
		// unreachable engine selects the cluster transport.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := client.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil
		}
	}
	return client, nil
}

func parseMode(mode string) (executor.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		return executor.ModeAuto, nil
	case "local":
		return executor.ModeLocal, nil
	case "cluster":
		return executor.ModeCluster, nil
	default:
		return executor.ModeAuto, errors.Errorf("unknown executor mode %q", mode)
	}
}

func loadSigner(path string) (ssh.Signer, error) {
	if path == "" {
		return nil, errors.New("config: executor.sshPrivateKeyPath is required for cluster mode")
	}
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading SSH private key")
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "parsing SSH private key")
	}
	return signer, nil
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// staticServiceLister adapts a config-file list of proxy services into
// proxy.ServiceLister. A real multi-node cluster deployment can swap this
// for a Kubernetes-clientset-backed lister without touching internal/proxy;
// the static list is the simplest implementation a single-operator
// deployment of this scope needs.
type staticServiceLister []ServiceConfig

func (s staticServiceLister) ListServices(ctx context.Context) ([]proxy.ServiceRecord, error) {
	records := make([]proxy.ServiceRecord, 0, len(s))
	for _, svc := range s {
		records = append(records, proxy.ServiceRecord{
			Name:   svc.Name,
			Labels: svc.Labels,
			Host:   svc.Host,
			Port:   svc.Port,
		})
	}
	return records, nil
}
