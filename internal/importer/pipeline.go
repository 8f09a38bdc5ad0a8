// Package importer turns external media files into encrypted vault items.
package importer

import (
	"context"
	"fmt"

	"github.com/TheMichaelB/strongroom/internal/crypto"
	"github.com/TheMichaelB/strongroom/internal/events"
	"github.com/TheMichaelB/strongroom/internal/models"
	"github.com/TheMichaelB/strongroom/internal/storage"
)

// Import stages, reported in models.ImportError.
const (
	StageResolve   = "resolve"
	StageRead      = "read"
	StageMeasure   = "measure"
	StageThumbnail = "thumbnail"
	StageIdentify  = "identify"
	StageWrite     = "write"
	StageDelete    = "delete"
	StageCommit    = "commit"
)

// Object names inside an item directory.
const (
	DataObject      = "data"
	ThumbnailObject = "thumbnail"
)

// maxIDAttempts bounds regeneration on identifier collision.
const maxIDAttempts = 8

// Item is a persisted but not yet committed import result.
type Item struct {
	ID       string
	Ref      FileRef
	Metadata models.ItemMetadata
}

// Pipeline ingests files into one vault.
type Pipeline struct {
	store  *storage.EncryptedStore
	source MediaSource
	images *ImageProcessor
	ids    crypto.IDGenerator
	logger *events.Logger
}

// NewPipeline creates an import pipeline.
func NewPipeline(store *storage.EncryptedStore, source MediaSource, images *ImageProcessor, ids crypto.IDGenerator, logger *events.Logger) *Pipeline {
	return &Pipeline{
		store:  store,
		source: source,
		images: images,
		ids:    ids,
		logger: logger,
	}
}

// Ingest processes refs in order and writes each item's encrypted objects.
// taken reports identifiers already in use. On failure the items persisted
// so far are returned with an *models.ImportError naming them as orphans;
// nothing is rolled back.
func (p *Pipeline) Ingest(ctx context.Context, vault string, key []byte, refs []FileRef, taken func(id string) bool) ([]Item, error) {
	items := make([]Item, 0, len(refs))
	assigned := make(map[string]bool, len(refs))
	logger := events.FromContextOr(ctx, p.logger).WithField("component", "importer")

	fail := func(stage string, ref FileRef, orphan string, err error) ([]Item, error) {
		orphaned := make([]string, 0, len(items)+1)
		for _, it := range items {
			orphaned = append(orphaned, it.ID)
		}
		if orphan != "" {
			orphaned = append(orphaned, orphan)
		}

		logger.WithFields(map[string]interface{}{
			"stage":    stage,
			"file":     ref.Name,
			"orphaned": len(orphaned),
			"code":     models.ErrCodeImport,
		}).WithError(err).Warn("Import aborted")

		return items, &models.ImportError{Stage: stage, File: ref.Name, Orphaned: orphaned, Err: err}
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return fail(StageRead, ref, "", err)
		}

		// An unknown type aborts the whole remaining batch
		kind, err := models.KindOf(ref.Name, ref.MimeType)
		if err != nil {
			return fail(StageResolve, ref, "", err)
		}

		raw, err := p.source.ReadAll(ctx, ref.URI)
		if err != nil {
			return fail(StageRead, ref, "", err)
		}

		meta := models.ItemMetadata{
			ItemPath: ref.Name,
			MimeType: kind.Mime(),
		}
		payload := models.EncodeDataURI(kind.Mime(), raw)

		var thumbnail string
		switch k := kind.(type) {
		case models.Image:
			size, err := p.images.Dimensions(raw)
			if err != nil {
				return fail(StageMeasure, ref, "", err)
			}
			meta.Size = size

			if k.Thumbnailable() {
				thumb, err := p.images.Thumbnail(ctx, raw)
				if err != nil {
					return fail(StageThumbnail, ref, "", err)
				}
				thumbnail = models.EncodeDataURI(ThumbnailMime, thumb)
				meta.HasThumbnail = true
			}
		default:
			return fail(StageResolve, ref, "", &models.UnknownFileTypeError{Name: ref.Name, MimeType: kind.Mime()})
		}

		id, err := p.newID(func(id string) bool { return assigned[id] || (taken != nil && taken(id)) })
		if err != nil {
			return fail(StageIdentify, ref, "", err)
		}

		if err := p.store.Store().Mkdir(ctx, vault, id); err != nil {
			return fail(StageWrite, ref, "", err)
		}
		if err := p.store.WriteEncrypted(ctx, key, payload, vault, id, DataObject); err != nil {
			return fail(StageWrite, ref, id, err)
		}
		if thumbnail != "" {
			if err := p.store.WriteEncrypted(ctx, key, thumbnail, vault, id, ThumbnailObject); err != nil {
				return fail(StageWrite, ref, id, err)
			}
		}

		assigned[id] = true
		items = append(items, Item{ID: id, Ref: ref, Metadata: meta})

		logger.WithFields(map[string]interface{}{
			"id":        id,
			"type":      meta.MimeType,
			"width":     meta.Size.Width,
			"height":    meta.Size.Height,
			"thumbnail": meta.HasThumbnail,
		}).Debug("Item persisted")
	}

	return items, nil
}

func (p *Pipeline) newID(taken func(string) bool) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := p.ids.NewID()
		if err != nil {
			return "", err
		}
		if !taken(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("no unused identifier after %d attempts", maxIDAttempts)
}
