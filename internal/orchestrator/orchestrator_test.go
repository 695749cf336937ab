package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoopeyTheGreat/next-prism/internal/dedup"
	"github.com/LoopeyTheGreat/next-prism/internal/executor"
	"github.com/LoopeyTheGreat/next-prism/internal/model"
	"github.com/LoopeyTheGreat/next-prism/internal/queue"
	"github.com/LoopeyTheGreat/next-prism/internal/stats"
	"github.com/LoopeyTheGreat/next-prism/internal/syncengine"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeExecutor) Exec(ctx context.Context, serviceKind string, argv []string, timeout time.Duration, retries int) (executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := serviceKind + ":" + argv[1]
	f.calls = append(f.calls, key)
	if f.fail[key] {
		return executor.Result{OK: false}, nil
	}
	return executor.Result{OK: true}, nil
}

func newHarness(t *testing.T) (sourceDir, importDir string, q *queue.Queue, engine *syncengine.Engine, statsBag *stats.Bag, exec *fakeExecutor) {
	t.Helper()
	sourceDir = t.TempDir()
	importDir = t.TempDir()
	q = queue.New(0)
	statsBag = stats.New()
	engine = syncengine.New(syncengine.Config{ImportDir: importDir}, dedup.New())
	exec = &fakeExecutor{fail: map[string]bool{}}
	return
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
	return path
}

func TestRunBatch_CompletedItemTriggersIndexingChain(t *testing.T) {
	sourceDir, importDir, q, engine, statsBag, exec := newHarness(t)
	_ = importDir
	folder := &model.MonitoredFolder{Path: sourceDir}
	src := writeImage(t, sourceDir, "a.jpg")

	o := New(Config{ImportPath: importDir}, nil, q, engine, exec, statsBag)
	item := &model.IngestItem{SourcePath: src, Folder: folder, MaxRetries: 3}

	o.runBatch(context.Background(), []*model.IngestItem{item})

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Len(t, exec.calls, 3)
	assert.Equal(t, "photoprism:import", exec.calls[0])
	assert.Equal(t, "nextcloud:files:scan", exec.calls[1])
	assert.Equal(t, "nextcloud:memories:index", exec.calls[2])
}

func TestRunBatch_IndexingChainStopsOnFirstFailure(t *testing.T) {
	sourceDir, importDir, q, engine, statsBag, exec := newHarness(t)
	exec.fail["photoprism:import"] = true
	folder := &model.MonitoredFolder{Path: sourceDir}
	src := writeImage(t, sourceDir, "a.jpg")

	o := New(Config{ImportPath: importDir}, nil, q, engine, exec, statsBag)
	item := &model.IngestItem{SourcePath: src, Folder: folder, MaxRetries: 3}

	o.runBatch(context.Background(), []*model.IngestItem{item})

	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Len(t, exec.calls, 1)
}

func TestRunBatch_NoCompletedItemsSkipsIndexingChain(t *testing.T) {
	sourceDir, importDir, q, engine, statsBag, exec := newHarness(t)
	folder := &model.MonitoredFolder{Path: sourceDir}
	missing := filepath.Join(sourceDir, "missing.jpg")

	o := New(Config{ImportPath: importDir}, nil, q, engine, exec, statsBag)
	item := &model.IngestItem{SourcePath: missing, Folder: folder, MaxRetries: 3}

	o.runBatch(context.Background(), []*model.IngestItem{item})

	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Len(t, exec.calls, 0)
	// The failed item still has retry budget left, so it is re-enqueued.
	assert.Equal(t, 1, q.Len())
}

func TestRunBatch_FailedItemIsReenqueuedUntilRetriesExhausted(t *testing.T) {
	sourceDir, importDir, q, engine, statsBag, exec := newHarness(t)
	folder := &model.MonitoredFolder{Path: sourceDir}
	missing := filepath.Join(sourceDir, "missing.jpg")

	o := New(Config{ImportPath: importDir}, nil, q, engine, exec, statsBag)
	item := &model.IngestItem{SourcePath: missing, Folder: folder, MaxRetries: 1, RetryCount: 0}

	o.runBatch(context.Background(), []*model.IngestItem{item})
	assert.Equal(t, 1, q.Len())

	retried, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, retried.RetryCount)

	o.runBatch(context.Background(), []*model.IngestItem{retried})
	assert.Equal(t, 0, q.Len())
}

func TestEnqueueStable_DropsOnFullQueue(t *testing.T) {
	sourceDir, importDir, _, engine, statsBag, exec := newHarness(t)
	q := queue.New(1)
	folder := &model.MonitoredFolder{Path: sourceDir}

	o := New(Config{ImportPath: importDir}, nil, q, engine, exec, statsBag)
	o.enqueueStable(filepath.Join(sourceDir, "a.jpg"), folder)
	o.enqueueStable(filepath.Join(sourceDir, "b.jpg"), folder)

	assert.Equal(t, 1, q.Len())
}

func TestProcessorLoop_FlushesOnBatchSize(t *testing.T) {
	sourceDir, importDir, q, engine, statsBag, exec := newHarness(t)
	folder := &model.MonitoredFolder{Path: sourceDir}

	o := New(Config{ImportPath: importDir, BatchSize: 2, BatchTimeout: time.Minute}, nil, q, engine, exec, statsBag)

	ctx, cancel := context.WithCancel(context.Background())
	o.wg.Add(1)
	go o.processorLoop(ctx)

	src1 := writeImage(t, sourceDir, "a.jpg")
	src2 := writeImage(t, sourceDir, "b.jpg")
	require.NoError(t, q.TryEnqueue(&model.IngestItem{SourcePath: src1, Folder: folder, MaxRetries: 3}))
	require.NoError(t, q.TryEnqueue(&model.IngestItem{SourcePath: src2, Folder: folder, MaxRetries: 3}))

	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return len(exec.calls) >= 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	o.wg.Wait()
}

func TestProcessorLoop_FlushesOnBatchTimeout(t *testing.T) {
	sourceDir, importDir, q, engine, statsBag, exec := newHarness(t)
	folder := &model.MonitoredFolder{Path: sourceDir}

	o := New(Config{ImportPath: importDir, BatchSize: 10, BatchTimeout: 100 * time.Millisecond}, nil, q, engine, exec, statsBag)

	ctx, cancel := context.WithCancel(context.Background())
	o.wg.Add(1)
	go o.processorLoop(ctx)

	src := writeImage(t, sourceDir, "a.jpg")
	require.NoError(t, q.TryEnqueue(&model.IngestItem{SourcePath: src, Folder: folder, MaxRetries: 3}))

	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return len(exec.calls) >= 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	o.wg.Wait()
}

func TestRescanFolder_EnqueuesExistingFiles(t *testing.T) {
	sourceDir, importDir, q, engine, statsBag, exec := newHarness(t)
	folder := &model.MonitoredFolder{
		Path:       sourceDir,
		Enabled:    true,
		Extensions: map[string]struct{}{"jpg": {}},
	}
	writeImage(t, sourceDir, "a.jpg")
	writeImage(t, sourceDir, "b.jpg")

	o := New(Config{ImportPath: importDir}, nil, q, engine, exec, statsBag)
	require.NoError(t, o.RescanFolder(nil, []*model.MonitoredFolder{folder}))

	assert.Equal(t, 2, q.Len())
}
