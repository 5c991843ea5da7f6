package server

import (
	"fmt"
	"path/filepath"

	"camdvr/internal/config"
	"camdvr/internal/ingest"
	"camdvr/internal/live"
	"camdvr/internal/models"
	"camdvr/internal/pipeline"
	"camdvr/internal/playback"
	"camdvr/internal/store"
)

// Core wires the ingest path (listener -> broadcaster + storage queue ->
// index queue -> index store) and the playback side (session manager ->
// index store + blob store). All state is owned here and injected into
// the components, nothing is process-global.
type Core struct {
	cfg config.Config

	Blobs    *store.BlobStore
	Index    *store.IndexStore
	StorageQ *pipeline.StorageQueue
	IndexQ   *pipeline.IndexQueue
	Live     *live.Broadcaster
	Sessions *playback.Manager
	Ingest   *ingest.Listener
}

func NewCore(cfg config.Config) (*Core, error) {
	blobs, err := store.NewBlobStore(cfg.BlobDir)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}
	index, err := store.OpenIndex(cfg.DSN, cfg.Index.PoolSize, cfg.Index.CheckoutTimeout())
	if err != nil {
		return nil, fmt.Errorf("index store: %w", err)
	}

	c := &Core{
		cfg:   cfg,
		Blobs: blobs,
		Index: index,
		Live:  live.NewBroadcaster(),
	}
	c.IndexQ = pipeline.NewIndexQueue(
		cfg.Index.BatchSize, cfg.Index.FlushDelay(), cfg.Index.RetryBackoff(), cfg.Index.MaxRetries, index)
	c.StorageQ = pipeline.NewStorageQueue(cfg.Storage.QueueCap, cfg.Storage.DrainTick(), blobs, c.IndexQ)
	c.Sessions = playback.NewManager(index, blobs, playback.Config{
		PageSize:      cfg.Playback.PageSize,
		LowWater:      cfg.Playback.LowWater,
		BaseDelay:     cfg.Playback.BaseDelay(),
		MissThreshold: cfg.Playback.MissThreshold,
	})
	c.Ingest = ingest.NewListener(cfg.IngestAddr, c.HandleFrame)
	return c, nil
}

// Start launches the background workers and binds the ingest port.
func (c *Core) Start() error {
	c.IndexQ.Start()
	c.StorageQ.Start()
	return c.Ingest.Start()
}

// Close tears everything down, flushing both queues on the way out.
func (c *Core) Close() {
	c.Ingest.Close()
	c.StorageQ.Stop()
	c.IndexQ.Stop()
	c.Index.Close()
}

// HandleFrame is the single entry point for ingested frames, from the
// TCP listener and from the HTTP upload alike. Live broadcast comes
// first and is unconditional; the storage copy is enqueued without
// blocking and may be dropped under backpressure.
func (c *Core) HandleFrame(f models.Frame) {
	c.Live.Broadcast(f.CamNo, f.Timestamp, f.Payload)

	name := f.FileHint
	if name != "" {
		// Camera-supplied hints are names, never paths.
		name = filepath.Base(filepath.FromSlash(name))
	}
	// Full-queue drops are logged and counted by the queue itself.
	_ = c.StorageQ.Enqueue(models.StorageTask{
		CamNo:     f.CamNo,
		Filename:  name,
		Timestamp: f.Timestamp,
		Payload:   f.Payload,
	})
}

// Status is the observability snapshot served by the config endpoint.
type Status struct {
	IngestAddr     string `json:"ingestAddr"`
	BlobDir        string `json:"blobDir"`
	QueueLen       int    `json:"queueLen"`
	QueueDropped   uint64 `json:"queueDropped"`
	FramesWritten  uint64 `json:"framesWritten"`
	IndexBuffered  int    `json:"indexBuffered"`
	IndexInserted  uint64 `json:"indexInserted"`
	IndexAbandoned uint64 `json:"indexAbandoned"`
	LiveViewers    int    `json:"liveViewers"`
	Sessions       int    `json:"sessions"`
}

func (c *Core) Status() Status {
	return Status{
		IngestAddr:     c.cfg.IngestAddr,
		BlobDir:        c.cfg.BlobDir,
		QueueLen:       c.StorageQ.Len(),
		QueueDropped:   c.StorageQ.Dropped(),
		FramesWritten:  c.StorageQ.Written(),
		IndexBuffered:  c.IndexQ.Buffered(),
		IndexInserted:  c.IndexQ.Inserted(),
		IndexAbandoned: c.IndexQ.DeadLettered(),
		LiveViewers:    c.Live.Count(),
		Sessions:       c.Sessions.Count(),
	}
}
