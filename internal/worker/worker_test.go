package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amillerrr/abr-pipeline/internal/ladder"
	"github.com/amillerrr/abr-pipeline/internal/queue"
	"github.com/amillerrr/abr-pipeline/internal/stability"
	"github.com/amillerrr/abr-pipeline/pkg/models"
)

type fakeGate struct {
	outcome stability.Outcome
	err     error
}

func (g *fakeGate) Await(ctx context.Context, path string) (stability.Outcome, error) {
	return g.outcome, g.err
}

type fakeProber struct {
	mu      sync.Mutex
	calls   int
	err     error
	panicOn string
}

func (p *fakeProber) Probe(ctx context.Context, path string) (*models.SourceAsset, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.panicOn != "" && strings.Contains(path, p.panicOn) {
		panic("probe exploded")
	}
	if p.err != nil {
		return nil, p.err
	}
	return &models.SourceAsset{Path: path, Width: 854, Height: 480, FPS: 25, HasAudio: true}, nil
}

// fakeTranscoder writes the manifests of every requested format.
type fakeTranscoder struct {
	mu      sync.Mutex
	calls   []string
	rungs   []models.Profile
	failFmt models.Format
	block   chan struct{}
	ctxErrs []error
}

func (f *fakeTranscoder) Transcode(ctx context.Context, asset *models.SourceAsset, rungs []models.Profile, target models.TargetFormat, assetDir string) (*models.ManifestSet, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls = append(f.calls, asset.Path)
	f.rungs = rungs
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()

	set := &models.ManifestSet{}
	var err error
	for _, format := range target.Formats() {
		if format == f.failFmt {
			err = errors.Join(err, models.ErrEncodeFailed)
			continue
		}
		var path string
		switch format {
		case models.FormatHLS:
			path = filepath.Join(assetDir, "hls", "master.m3u8")
			set.MasterPlaylistPath = path
		case models.FormatDASH:
			path = filepath.Join(assetDir, "dash", "manifest.mpd")
			set.DASHManifestPath = path
		}
		if mkErr := os.MkdirAll(filepath.Dir(path), 0755); mkErr != nil {
			return nil, mkErr
		}
		if wErr := os.WriteFile(path, []byte("manifest"), 0644); wErr != nil {
			return nil, wErr
		}
	}
	return set, err
}

func (f *fakeTranscoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCatalog struct {
	mu        sync.Mutex
	started   []*models.AssetRecord
	completed map[string]string
	failed    map[string]string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{completed: make(map[string]string), failed: make(map[string]string)}
}

func (c *fakeCatalog) StartProcessing(ctx context.Context, record *models.AssetRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, record)
	return nil
}

func (c *fakeCatalog) CompleteProcessing(ctx context.Context, assetID string, manifests *models.ManifestSet, partialErr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed[assetID] = partialErr
	return nil
}

func (c *fakeCatalog) FailProcessing(ctx context.Context, assetID, errorMessage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed[assetID] = errorMessage
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.CompletionEvent
}

func (p *fakePublisher) Publish(ctx context.Context, event *models.CompletionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type fakeUploader struct {
	err      error
	uploaded []string
}

func (u *fakeUploader) Upload(ctx context.Context, assetID, assetDir string) error {
	u.uploaded = append(u.uploaded, assetID)
	return u.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(t *testing.T, q Source, tr *fakeTranscoder) (*Worker, *Config) {
	t.Helper()
	cfg := &Config{
		Queue:          q,
		Gate:           &fakeGate{outcome: stability.Stable},
		Prober:         &fakeProber{},
		Transcoder:     tr,
		Layout:         NewLayout(t.TempDir()),
		Table:          ladder.DefaultTable(),
		Target:         models.TargetBoth,
		IdleBackoffMin: time.Millisecond,
		IdleBackoffMax: 5 * time.Millisecond,
		Logger:         testLogger(),
	}
	return New(cfg), cfg
}

func item(path string) queue.Item {
	return queue.Item{Path: path, DiscoveredAt: time.Now(), State: queue.StateDiscovered}
}

func TestProcess_Success(t *testing.T) {
	tr := &fakeTranscoder{}
	w, cfg := newTestWorker(t, queue.New(), tr)
	catalog := newFakeCatalog()
	publisher := &fakePublisher{}
	uploader := &fakeUploader{}
	cfg.Catalog = catalog
	cfg.Publisher = publisher
	cfg.Uploader = uploader
	cfg.CDNDomain = "cdn.example.com"

	result, err := w.Process(context.Background(), item("/in/show/clip.mp4"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result != ResultSuccess {
		t.Errorf("Process() = %s, want success", result)
	}

	if got := ladder.Names(tr.rungs); strings.Join(got, ",") != "240p,360p,480p" {
		t.Errorf("ladder = %v, want [240p 360p 480p]", got)
	}
	if len(catalog.started) != 1 || catalog.started[0].AssetID != "clip" || catalog.started[0].RunID == "" {
		t.Errorf("started = %+v", catalog.started)
	}
	if msg, ok := catalog.completed["clip"]; !ok || msg != "" {
		t.Errorf("completed = %v", catalog.completed)
	}
	if len(uploader.uploaded) != 1 {
		t.Errorf("uploaded = %v, want one asset", uploader.uploaded)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("events = %d, want 1", len(publisher.events))
	}
	event := publisher.events[0]
	if event.PlaybackURL != "https://cdn.example.com/clip/hls/master.m3u8" {
		t.Errorf("PlaybackURL = %s", event.PlaybackURL)
	}
	if len(event.Renditions) != 3 {
		t.Errorf("Renditions = %v", event.Renditions)
	}

	wantMaster := filepath.Join(cfg.Layout.Root(), "clip", "hls", "master.m3u8")
	if event.Manifests.MasterPlaylistPath != wantMaster {
		t.Errorf("MasterPlaylistPath = %s, want %s", event.Manifests.MasterPlaylistPath, wantMaster)
	}
}

func TestProcess_Disappeared(t *testing.T) {
	tr := &fakeTranscoder{}
	w, cfg := newTestWorker(t, queue.New(), tr)
	prober := &fakeProber{}
	cfg.Prober = prober
	cfg.Gate = &fakeGate{outcome: stability.Disappeared}

	result, err := w.Process(context.Background(), item("/in/gone.mp4"))
	if result != ResultSkipped || !errors.Is(err, models.ErrFileDisappeared) {
		t.Errorf("Process() = %s, %v; want skipped, ErrFileDisappeared", result, err)
	}
	if prober.calls != 0 {
		t.Errorf("prober called %d times, want 0", prober.calls)
	}
}

func TestProcess_TimedOutStillProcesses(t *testing.T) {
	var logs bytes.Buffer
	tr := &fakeTranscoder{}
	cfg := &Config{
		Queue:      queue.New(),
		Gate:       &fakeGate{outcome: stability.TimedOut},
		Prober:     &fakeProber{},
		Transcoder: tr,
		Layout:     NewLayout(t.TempDir()),
		Table:      ladder.DefaultTable(),
		Target:     models.TargetBoth,
		Logger:     slog.New(slog.NewTextHandler(&logs, nil)),
	}
	w := New(cfg)

	result, _ := w.Process(context.Background(), item("/in/slow.mp4"))
	if result != ResultSuccess {
		t.Errorf("Process() = %s, want success", result)
	}
	if tr.callCount() != 1 {
		t.Errorf("transcoder calls = %d, want 1", tr.callCount())
	}
	if !strings.Contains(logs.String(), "stability=timed_out") {
		t.Errorf("processing logs missing stability state:\n%s", logs.String())
	}
}

func TestSettledState(t *testing.T) {
	tests := []struct {
		outcome stability.Outcome
		want    queue.StabilityState
	}{
		{stability.Stable, queue.StateStable},
		{stability.TimedOut, queue.StateTimedOut},
		{stability.Disappeared, queue.StateDisappeared},
	}
	for _, tt := range tests {
		if got := settledState(tt.outcome); got != tt.want {
			t.Errorf("settledState(%s) = %s, want %s", tt.outcome, got, tt.want)
		}
	}
}

func TestProcess_GateCanceled(t *testing.T) {
	tr := &fakeTranscoder{}
	w, cfg := newTestWorker(t, queue.New(), tr)
	cfg.Gate = &fakeGate{outcome: stability.TimedOut, err: context.Canceled}

	result, err := w.Process(context.Background(), item("/in/a.mp4"))
	if result != ResultSkipped || !errors.Is(err, context.Canceled) {
		t.Errorf("Process() = %s, %v; want skipped, context.Canceled", result, err)
	}
	if tr.callCount() != 0 {
		t.Error("transcoder called after gate cancellation")
	}
}

func TestProcess_ProbeFailure(t *testing.T) {
	tr := &fakeTranscoder{}
	w, cfg := newTestWorker(t, queue.New(), tr)
	catalog := newFakeCatalog()
	cfg.Catalog = catalog
	cfg.Prober = &fakeProber{err: models.ErrProbeFailed}

	result, err := w.Process(context.Background(), item("/in/corrupt.mp4"))
	if result != ResultFailed || !errors.Is(err, models.ErrProbeFailed) {
		t.Errorf("Process() = %s, %v; want failed, ErrProbeFailed", result, err)
	}
	if _, ok := catalog.failed["corrupt"]; !ok {
		t.Error("catalog not marked failed")
	}
	if tr.callCount() != 0 {
		t.Error("transcoder called after probe failure")
	}
}

func TestProcess_Partial(t *testing.T) {
	tr := &fakeTranscoder{failFmt: models.FormatDASH}
	w, cfg := newTestWorker(t, queue.New(), tr)
	catalog := newFakeCatalog()
	publisher := &fakePublisher{}
	cfg.Catalog = catalog
	cfg.Publisher = publisher

	result, err := w.Process(context.Background(), item("/in/clip.mov"))
	if result != ResultPartial || !errors.Is(err, models.ErrEncodeFailed) {
		t.Errorf("Process() = %s, %v; want partial, ErrEncodeFailed", result, err)
	}
	if catalog.completed["clip"] == "" {
		t.Error("partial error not recorded in catalog")
	}
	if len(publisher.events) != 1 || publisher.events[0].Error == "" {
		t.Errorf("events = %+v, want one event with error", publisher.events)
	}
}

func TestProcess_AllFormatsFail(t *testing.T) {
	tr := &fakeTranscoder{failFmt: models.FormatHLS}
	w, cfg := newTestWorker(t, queue.New(), tr)
	cfg.Target = models.TargetHLS
	publisher := &fakePublisher{}
	cfg.Publisher = publisher

	result, err := w.Process(context.Background(), item("/in/clip.mp4"))
	if result != ResultFailed || !errors.Is(err, models.ErrEncodeFailed) {
		t.Errorf("Process() = %s, %v; want failed", result, err)
	}
	if len(publisher.events) != 0 {
		t.Error("completion event published for failed asset")
	}
}

func TestProcess_SkipsCompletedUnlessReprocessing(t *testing.T) {
	tr := &fakeTranscoder{}
	w, cfg := newTestWorker(t, queue.New(), tr)

	if result, _ := w.Process(context.Background(), item("/in/clip.mp4")); result != ResultSuccess {
		t.Fatalf("first Process() = %s, want success", result)
	}
	if result, _ := w.Process(context.Background(), item("/in/clip.mp4")); result != ResultSkipped {
		t.Errorf("second Process() = %s, want skipped", result)
	}

	cfg.ReprocessExisting = true
	if result, _ := w.Process(context.Background(), item("/in/clip.mp4")); result != ResultSuccess {
		t.Errorf("reprocess Process() = %s, want success", result)
	}
	if tr.callCount() != 2 {
		t.Errorf("transcoder calls = %d, want 2", tr.callCount())
	}
}

func TestProcess_UploadFailureIsPartial(t *testing.T) {
	tr := &fakeTranscoder{}
	w, cfg := newTestWorker(t, queue.New(), tr)
	cfg.Uploader = &fakeUploader{err: models.ErrUploadFailed}

	result, err := w.Process(context.Background(), item("/in/clip.mp4"))
	if result != ResultPartial || !errors.Is(err, models.ErrUploadFailed) {
		t.Errorf("Process() = %s, %v; want partial, ErrUploadFailed", result, err)
	}
}

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestRun_DrainsQueueAndIsolatesPanics(t *testing.T) {
	q := queue.New()
	tr := &fakeTranscoder{}
	w, cfg := newTestWorker(t, q, tr)
	cfg.Workers = 2
	cfg.Prober = &fakeProber{panicOn: "boom"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	q.Enqueue("/in/a.mp4")
	q.Enqueue("/in/boom.mp4")
	q.Enqueue("/in/b.mp4")
	q.Enqueue("/in/c.mp4")

	if !waitFor(t, func() bool { return tr.callCount() == 3 }) {
		t.Errorf("transcoder calls = %d, want 3", tr.callCount())
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d, want 0", q.Len())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRun_FinishesInFlightOnShutdown(t *testing.T) {
	q := queue.New()
	tr := &fakeTranscoder{block: make(chan struct{})}
	w, _ := newTestWorker(t, q, tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	q.Enqueue("/in/long.mp4")
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		t.Fatal("Run() returned before the in-flight job finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(tr.block)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after the job finished")
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.ctxErrs) != 1 || tr.ctxErrs[0] != nil {
		t.Errorf("transcode context errors = %v, want one uncanceled context", tr.ctxErrs)
	}
}

func TestNew_Defaults(t *testing.T) {
	w := New(&Config{IdleBackoffMin: time.Second, IdleBackoffMax: time.Millisecond})
	if w.cfg.Workers != 1 {
		t.Errorf("Workers = %d, want 1", w.cfg.Workers)
	}
	if w.cfg.IdleBackoffMax != time.Second {
		t.Errorf("IdleBackoffMax = %v, want clamped to min", w.cfg.IdleBackoffMax)
	}
}
