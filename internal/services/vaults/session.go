package vaults

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/TheMichaelB/strongroom/internal/crypto"
	"github.com/TheMichaelB/strongroom/internal/events"
	"github.com/TheMichaelB/strongroom/internal/importer"
	"github.com/TheMichaelB/strongroom/internal/manifest"
	"github.com/TheMichaelB/strongroom/internal/models"
)

// ItemResult is the outcome of LoadItem. Pending means another load of the
// same item is already decrypting; retry later.
type ItemResult struct {
	ID      string `json:"id"`
	Payload string `json:"payload,omitempty"`
	Pending bool   `json:"pending,omitempty"`
	Hit     bool   `json:"hit,omitempty"`
}

// Session is one open vault. It owns the key, the published item map and a
// bounded cache of decrypted payloads.
type Session struct {
	name     string
	key      []byte
	svc      *Service
	index    manifest.Index
	pipeline *importer.Pipeline
	metrics  *cacheMetrics
	logger   *events.Logger

	// Guards everything below
	mu       sync.Mutex
	items    models.Manifest
	cache    *simplelru.LRU[string, string]
	inFlight map[string]struct{}
	closed   bool

	// Serializes imports and orphan pruning
	importMu sync.Mutex

	// Cancelled on Close; ops waits for abandoned work before the key is wiped
	ctx    context.Context
	cancel context.CancelFunc
	ops    sync.WaitGroup
}

func newSession(svc *Service, name string, key []byte, index manifest.Index, items models.Manifest, logger *events.Logger) (*Session, error) {
	cache, err := simplelru.NewLRU[string, string](svc.maxCached, nil)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	metrics, err := newCacheMetrics(svc.meter, name)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		name:     name,
		key:      key,
		svc:      svc,
		index:    index,
		pipeline: importer.NewPipeline(svc.enc, svc.source, svc.images, svc.ids, logger),
		metrics:  metrics,
		logger:   logger,
		items:    items,
		cache:    cache,
		inFlight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Name returns the vault name.
func (s *Session) Name() string {
	return s.name
}

// LoadItem returns an item's decrypted payload. A cached payload is
// promoted and returned; a load racing an in-flight decrypt of the same id
// returns Pending without blocking; otherwise the payload is decrypted and
// cached, evicting the least recently used entry when full.
func (s *Session) LoadItem(ctx context.Context, id string) (ItemResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ItemResult{}, models.ErrSessionClosed
	}
	if _, ok := s.items[id]; !ok {
		s.mu.Unlock()
		return ItemResult{}, fmt.Errorf("%w: %s", models.ErrItemNotFound, id)
	}
	if payload, ok := s.cache.Get(id); ok {
		s.mu.Unlock()
		s.metrics.add(ctx, s.metrics.hits)
		return ItemResult{ID: id, Payload: payload, Hit: true}, nil
	}
	if _, busy := s.inFlight[id]; busy {
		s.mu.Unlock()
		s.metrics.add(ctx, s.metrics.pending)
		return ItemResult{ID: id, Pending: true}, nil
	}
	s.inFlight[id] = struct{}{}
	s.ops.Add(1)
	s.mu.Unlock()
	defer s.ops.Done()

	s.metrics.add(ctx, s.metrics.misses)

	opCtx, cancel := s.join(ctx)
	payload, err := s.readText(opCtx, id, importer.DataObject)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Cleared on every path so a failed decrypt can be retried
	delete(s.inFlight, id)

	if s.closed {
		return ItemResult{}, models.ErrSessionClosed
	}
	if err != nil {
		s.metrics.add(ctx, s.metrics.failures)
		_, logger := events.Scoped(ctx, s.logger)
		logger.WithField("id", id).WithField("code", ErrorCode(err)).WithError(err).Warn("Item decrypt failed")
		return ItemResult{}, err
	}

	if s.cache.Add(id, payload) {
		s.metrics.add(ctx, s.metrics.evictions)
	}

	return ItemResult{ID: id, Payload: payload}, nil
}

// LoadThumbnail decrypts an item's thumbnail. Thumbnails are not cached.
func (s *Session) LoadThumbnail(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", models.ErrSessionClosed
	}
	meta, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", models.ErrItemNotFound, id)
	}
	if !meta.HasThumbnail {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", models.ErrNoThumbnail, id)
	}
	s.ops.Add(1)
	s.mu.Unlock()
	defer s.ops.Done()

	opCtx, cancel := s.join(ctx)
	defer cancel()

	thumb, err := s.readText(opCtx, id, importer.ThumbnailObject)
	if err != nil {
		s.metrics.add(ctx, s.metrics.failures)
		return "", err
	}
	return thumb, nil
}

// Items returns a snapshot of every item; payloads are set for cached ids.
func (s *Session) Items() map[string]models.DecryptedItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]models.DecryptedItem, len(s.items))
	for id, meta := range s.items {
		item := models.DecryptedItem{ItemMetadata: meta}
		if payload, ok := s.cache.Peek(id); ok {
			p := payload
			item.Payload = &p
		}
		out[id] = item
	}
	return out
}

// Cached returns cached ids from least to most recently used.
func (s *Session) Cached() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Keys()
}

// ImportFiles ingests refs, deletes the originals, rewrites the manifest
// and publishes the new items. Failures are *models.ImportError values
// listing items left in storage without a manifest entry.
func (s *Session) ImportFiles(ctx context.Context, refs []importer.FileRef) ([]string, error) {
	s.importMu.Lock()
	defer s.importMu.Unlock()

	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.ops.Done()

	ctx, cancel := s.join(ctx)
	defer cancel()

	ctx, logger := events.Scoped(ctx, s.logger)
	logger = logger.WithField("files", len(refs))
	logger.Info("Importing files")

	taken := func(id string) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.items[id]
		return ok
	}

	imported, err := s.pipeline.Ingest(ctx, s.name, s.key, refs, taken)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(imported))
	for i, item := range imported {
		ids[i] = item.ID
	}

	// Irreversible; only after every encrypted write of the batch
	deleted := 0
	if s.svc.deleteOriginals {
		for _, item := range imported {
			if err := s.svc.deleter.Delete(ctx, item.Ref.URI); err != nil {
				return nil, &models.ImportError{
					Stage:            importer.StageDelete,
					File:             item.Ref.Name,
					Orphaned:         ids,
					OriginalsDeleted: deleted > 0,
					Err:              err,
				}
			}
			deleted++
		}
	}

	s.mu.Lock()
	merged := s.items.Clone()
	s.mu.Unlock()
	for _, item := range imported {
		merged[item.ID] = item.Metadata
	}

	if err := s.index.Save(ctx, s.key, merged); err != nil {
		logger.WithField("code", models.ErrCodeImport).WithError(err).Error("Manifest rewrite failed")
		return nil, &models.ImportError{
			Stage:            importer.StageCommit,
			Orphaned:         ids,
			OriginalsDeleted: deleted > 0,
			Err:              err,
		}
	}

	s.mu.Lock()
	s.items = merged
	s.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"imported": len(ids),
		"deleted":  deleted,
	}).Info("Import committed")

	return ids, nil
}

// Orphans lists item directories in storage that the manifest does not
// reference, left behind by failed imports.
func (s *Session) Orphans(ctx context.Context) ([]string, error) {
	s.importMu.Lock()
	defer s.importMu.Unlock()
	return s.orphans(ctx)
}

// PruneOrphans removes orphaned item directories and returns their ids.
func (s *Session) PruneOrphans(ctx context.Context) ([]string, error) {
	s.importMu.Lock()
	defer s.importMu.Unlock()

	orphans, err := s.orphans(ctx)
	if err != nil {
		return nil, err
	}

	_, logger := events.Scoped(ctx, s.logger)
	for i, id := range orphans {
		if err := s.svc.store.Unlink(ctx, s.name, id); err != nil {
			return orphans[:i], fmt.Errorf("prune %s: %w", id, err)
		}
		logger.WithField("id", id).Info("Pruned orphaned item")
	}
	return orphans, nil
}

func (s *Session) orphans(ctx context.Context) ([]string, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.ops.Done()

	entries, err := s.svc.store.List(ctx, s.name)
	if err != nil {
		return nil, fmt.Errorf("list vault: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var orphans []string
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		if _, ok := s.items[e.Name]; !ok {
			orphans = append(orphans, e.Name)
		}
	}
	return orphans, nil
}

// Close abandons in-flight work, drops cached payloads and wipes the key.
// Persisted data is untouched. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	s.cache.Purge()
	s.mu.Unlock()

	// Abandoned decrypts still hold the key until they return
	s.ops.Wait()

	if err := crypto.UnlockMemory(s.key); err != nil {
		s.logger.WithError(err).Debug("Key memory not unlocked")
	}
	crypto.Wipe(s.key)

	s.logger.Info("Closed vault")
	return nil
}

// begin registers an operation unless the session is closed.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ErrSessionClosed
	}
	s.ops.Add(1)
	return nil
}

// join returns a context cancelled by either ctx or Close.
func (s *Session) join(ctx context.Context) (context.Context, context.CancelFunc) {
	joined, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return joined, func() {
		stop()
		cancel()
	}
}

func (s *Session) readText(ctx context.Context, id, object string) (string, error) {
	contents, err := s.svc.enc.ReadEncrypted(ctx, s.key, s.name, id, object)
	if err != nil {
		if errors.Is(err, crypto.ErrIntegrity) {
			return "", fmt.Errorf("item %s unavailable: %w", id, err)
		}
		return "", err
	}
	if contents.IsDocument() {
		return "", fmt.Errorf("item %s unavailable: %w", id, crypto.ErrIntegrity)
	}
	return contents.Text(), nil
}

// ErrorCode maps a session error to its structured code, or "" when the
// error has none.
func ErrorCode(err error) string {
	var storageErr *models.StorageError
	var unknownErr *models.UnknownFileTypeError
	var importErr *models.ImportError
	switch {
	case errors.Is(err, crypto.ErrIntegrity):
		return models.ErrCodeIntegrity
	case errors.Is(err, models.ErrOpenFailure):
		return models.ErrCodeOpen
	case errors.Is(err, models.ErrItemNotFound), errors.Is(err, models.ErrNoThumbnail):
		return models.ErrCodeNotFound
	case errors.Is(err, models.ErrSessionClosed):
		return models.ErrCodeClosed
	case errors.As(err, &unknownErr):
		return models.ErrCodeUnknownType
	case errors.As(err, &importErr):
		return models.ErrCodeImport
	case errors.As(err, &storageErr):
		return models.ErrCodeStorage
	default:
		return ""
	}
}
