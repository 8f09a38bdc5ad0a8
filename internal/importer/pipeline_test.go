package importer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/strongroom/internal/crypto"
	"github.com/TheMichaelB/strongroom/internal/events"
	"github.com/TheMichaelB/strongroom/internal/importer"
	"github.com/TheMichaelB/strongroom/internal/models"
	"github.com/TheMichaelB/strongroom/internal/storage"
	"github.com/TheMichaelB/strongroom/test/testutil"
)

type pipelineFixture struct {
	pipeline *importer.Pipeline
	enc      *storage.EncryptedStore
	mem      *storage.MemoryStore
	source   *testutil.MockSource
	key      []byte
}

func newPipeline(t *testing.T, ids ...string) *pipelineFixture {
	t.Helper()
	mem := storage.NewMemoryStore()
	enc := storage.NewEncryptedStore(mem, crypto.NewProvider())
	source := testutil.NewMockSource()

	var gen crypto.IDGenerator = crypto.NewIDGenerator()
	if len(ids) > 0 {
		gen = testutil.NewSequenceIDs(ids...)
	}

	return &pipelineFixture{
		pipeline: importer.NewPipeline(enc, source,
			importer.NewImageProcessor(16, 90, t.TempDir()), gen, events.NewNopLogger()),
		enc:    enc,
		mem:    mem,
		source: source,
		key:    testutil.TestVaultKey(),
	}
}

func TestPipeline_Ingest(t *testing.T) {
	f := newPipeline(t, "id-1", "id-2")
	ctx := context.Background()

	pngData := testutil.PNG(t, 40, 30)
	jpegData := testutil.JPEG(t, 12, 24)
	f.source.Add("/in/a.png", pngData)
	f.source.Add("/in/b.JPG", jpegData)

	items, err := f.pipeline.Ingest(ctx, "photos", f.key, []importer.FileRef{
		{Name: "a.png", MimeType: "image/png", URI: "/in/a.png"},
		{Name: "b.JPG", URI: "/in/b.JPG"},
	}, nil)

	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "id-1", items[0].ID)
	assert.Equal(t, models.ItemMetadata{
		ItemPath:     "a.png",
		MimeType:     "image/png",
		Size:         models.Size{Width: 40, Height: 30},
		HasThumbnail: true,
	}, items[0].Metadata)

	assert.Equal(t, "id-2", items[1].ID)
	assert.Equal(t, "image/jpeg", items[1].Metadata.MimeType)
	assert.Equal(t, models.Size{Width: 12, Height: 24}, items[1].Metadata.Size)

	assert.Equal(t, []string{
		"photos/id-1/data",
		"photos/id-1/thumbnail",
		"photos/id-2/data",
		"photos/id-2/thumbnail",
	}, f.mem.Paths())

	// Data decrypts to a data URI of the original bytes
	contents, err := f.enc.ReadEncrypted(ctx, f.key, "photos", "id-1", importer.DataObject)
	require.NoError(t, err)
	assert.Equal(t, models.EncodeDataURI("image/png", pngData), contents.Text())

	thumb, err := f.enc.ReadEncrypted(ctx, f.key, "photos", "id-1", importer.ThumbnailObject)
	require.NoError(t, err)
	mime, _, err := models.DecodeDataURI(thumb.Text())
	require.NoError(t, err)
	assert.Equal(t, importer.ThumbnailMime, mime)
}

func TestPipeline_NoThumbnailForOtherImages(t *testing.T) {
	f := newPipeline(t, "id-1")
	f.source.Add("/in/anim.gif", testutil.GIF(t, 8, 6))

	items, err := f.pipeline.Ingest(context.Background(), "photos", f.key, []importer.FileRef{
		{Name: "anim.gif", MimeType: "image/gif", URI: "/in/anim.gif"},
	}, nil)

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].Metadata.HasThumbnail)
	assert.Equal(t, models.Size{Width: 8, Height: 6}, items[0].Metadata.Size)
	assert.Equal(t, []string{"photos/id-1/data"}, f.mem.Paths())
}

func TestPipeline_UnknownTypeAbortsBatch(t *testing.T) {
	f := newPipeline(t, "id-1", "id-2", "id-3")
	f.source.Add("/in/a.png", testutil.PNG(t, 4, 4))
	f.source.Add("/in/notes.txt", []byte("hello"))
	f.source.Add("/in/c.png", testutil.PNG(t, 4, 4))

	items, err := f.pipeline.Ingest(context.Background(), "photos", f.key, []importer.FileRef{
		{Name: "a.png", URI: "/in/a.png"},
		{Name: "notes.txt", URI: "/in/notes.txt"},
		{Name: "c.png", URI: "/in/c.png"},
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnknownFileType)

	var importErr *models.ImportError
	require.True(t, errors.As(err, &importErr))
	assert.Equal(t, importer.StageResolve, importErr.Stage)
	assert.Equal(t, "notes.txt", importErr.File)
	assert.Equal(t, []string{"id-1"}, importErr.Orphaned)

	// The first file was persisted, later files were never touched
	require.Len(t, items, 1)
	assert.Equal(t, []string{"/in/a.png"}, f.source.Reads())
}

func TestPipeline_LogsThroughContext(t *testing.T) {
	f := newPipeline(t, "id-1")
	f.source.Add("/in/notes.txt", []byte("hello"))

	logger, logs := testutil.NewTestLogger()
	ctx := events.WithLogger(context.Background(), logger.WithField("vault", "photos"))

	_, err := f.pipeline.Ingest(ctx, "photos", f.key, []importer.FileRef{
		{Name: "notes.txt", URI: "/in/notes.txt"},
	}, nil)
	require.Error(t, err)

	entries := logs.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "Import aborted", entries[0]["msg"])
	assert.Equal(t, "importer", entries[0]["component"])
	assert.Equal(t, "photos", entries[0]["vault"])
	assert.Equal(t, models.ErrCodeImport, entries[0]["code"])
}

func TestPipeline_DeclaredMimeWins(t *testing.T) {
	f := newPipeline(t, "id-1")
	f.source.Add("/in/photo", testutil.JPEG(t, 5, 5))

	items, err := f.pipeline.Ingest(context.Background(), "photos", f.key, []importer.FileRef{
		{Name: "photo", MimeType: "image/jpeg", URI: "/in/photo"},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", items[0].Metadata.MimeType)

	_, err = f.pipeline.Ingest(context.Background(), "photos", f.key, []importer.FileRef{
		{Name: "clip.png", MimeType: "video/mp4", URI: "/in/photo"},
	}, nil)
	assert.ErrorIs(t, err, models.ErrUnknownFileType)
}

func TestPipeline_Failures(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(t *testing.T, f *pipelineFixture)
		refs         []importer.FileRef
		wantStage    string
		wantOrphaned []string
	}{
		{
			name:      "unreadable source",
			refs:      []importer.FileRef{{Name: "gone.png", URI: "/in/gone.png"}},
			wantStage: importer.StageRead,
		},
		{
			name: "corrupt image",
			setup: func(t *testing.T, f *pipelineFixture) {
				f.source.Add("/in/bad.png", []byte("not really a png"))
			},
			refs:      []importer.FileRef{{Name: "bad.png", URI: "/in/bad.png"}},
			wantStage: importer.StageMeasure,
		},
		{
			name: "thumbnail write fails",
			setup: func(t *testing.T, f *pipelineFixture) {
				f.source.Add("/in/a.png", testutil.PNG(t, 4, 4))
				f.mem.OnWrite = func(path string) error {
					if path == "photos/id-1/thumbnail" {
						return errors.New("disk full")
					}
					return nil
				}
			},
			refs:         []importer.FileRef{{Name: "a.png", URI: "/in/a.png"}},
			wantStage:    importer.StageWrite,
			wantOrphaned: []string{"id-1"},
		},
		{
			name: "second file write fails",
			setup: func(t *testing.T, f *pipelineFixture) {
				f.source.Add("/in/a.png", testutil.PNG(t, 4, 4))
				f.source.Add("/in/b.png", testutil.PNG(t, 4, 4))
				f.mem.OnWrite = func(path string) error {
					if path == "photos/id-2/data" {
						return errors.New("disk full")
					}
					return nil
				}
			},
			refs: []importer.FileRef{
				{Name: "a.png", URI: "/in/a.png"},
				{Name: "b.png", URI: "/in/b.png"},
			},
			wantStage:    importer.StageWrite,
			wantOrphaned: []string{"id-1", "id-2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipeline(t, "id-1", "id-2")
			if tt.setup != nil {
				tt.setup(t, f)
			}

			_, err := f.pipeline.Ingest(context.Background(), "photos", f.key, tt.refs, nil)

			var importErr *models.ImportError
			require.True(t, errors.As(err, &importErr), "got %v", err)
			assert.Equal(t, tt.wantStage, importErr.Stage)
			if tt.wantOrphaned == nil {
				assert.Empty(t, importErr.Orphaned)
			} else {
				assert.Equal(t, tt.wantOrphaned, importErr.Orphaned)
			}
		})
	}
}

func TestPipeline_IdentifierCollision(t *testing.T) {
	f := newPipeline(t, "existing", "id-1", "id-1", "id-2")
	f.source.Add("/in/a.png", testutil.PNG(t, 4, 4))
	f.source.Add("/in/b.png", testutil.PNG(t, 4, 4))

	taken := func(id string) bool { return id == "existing" }

	items, err := f.pipeline.Ingest(context.Background(), "photos", f.key, []importer.FileRef{
		{Name: "a.png", URI: "/in/a.png"},
		{Name: "b.png", URI: "/in/b.png"},
	}, taken)

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "id-1", items[0].ID)
	// Duplicates within the batch are skipped too
	assert.Equal(t, "id-2", items[1].ID)
}

func TestPipeline_CancelledContext(t *testing.T) {
	f := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline.Ingest(ctx, "photos", f.key, []importer.FileRef{
		{Name: "a.png", URI: "/in/a.png"},
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.mem.Paths())
}
