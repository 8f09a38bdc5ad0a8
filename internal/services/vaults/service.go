package vaults

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/TheMichaelB/strongroom/internal/config"
	"github.com/TheMichaelB/strongroom/internal/crypto"
	"github.com/TheMichaelB/strongroom/internal/device"
	"github.com/TheMichaelB/strongroom/internal/events"
	"github.com/TheMichaelB/strongroom/internal/importer"
	"github.com/TheMichaelB/strongroom/internal/manifest"
	"github.com/TheMichaelB/strongroom/internal/models"
	"github.com/TheMichaelB/strongroom/internal/storage"
)

// Service opens vaults on one object store.
type Service struct {
	store   storage.ObjectStore
	enc     *storage.EncryptedStore
	crypto  crypto.Provider
	device  device.Provider
	ids     crypto.IDGenerator
	source  importer.MediaSource
	deleter importer.OriginalDeleter
	images  *importer.ImageProcessor
	meter   metric.MeterProvider
	logger  *events.Logger

	maxCached       int
	deleteOriginals bool
}

// Option customizes a Service.
type Option func(*Service)

// WithCrypto replaces the crypto provider.
func WithCrypto(p crypto.Provider) Option {
	return func(s *Service) { s.crypto = p }
}

// WithIDGenerator replaces the item identifier source.
func WithIDGenerator(g crypto.IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithMediaSource replaces how import files are read.
func WithMediaSource(src importer.MediaSource) Option {
	return func(s *Service) { s.source = src }
}

// WithOriginalDeleter replaces how originals are removed after import.
func WithOriginalDeleter(d importer.OriginalDeleter) Option {
	return func(s *Service) { s.deleter = d }
}

// WithMeterProvider records cache metrics on mp instead of the global
// provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp }
}

// NewService creates a vault service.
func NewService(store storage.ObjectStore, dev device.Provider, cfg *config.Config, logger *events.Logger, opts ...Option) *Service {
	s := &Service{
		store:           store,
		crypto:          crypto.NewProvider(),
		device:          dev,
		ids:             crypto.NewIDGenerator(),
		source:          importer.FileSource{MaxSize: cfg.Storage.MaxFileSize},
		deleter:         importer.FileDeleter{},
		images:          importer.NewImageProcessor(cfg.Import.ThumbnailSize, cfg.Import.ThumbnailQuality, cfg.Storage.TempDir),
		meter:           otel.GetMeterProvider(),
		logger:          logger.WithField("service", "vaults"),
		maxCached:       cfg.Cache.MaxCached,
		deleteOriginals: cfg.Import.DeleteOriginals,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.enc = storage.NewEncryptedStore(store, s.crypto)
	return s
}

// Open derives the vault key and loads the manifest, creating an empty
// vault on first use. A wrong password and a damaged manifest both return
// an *models.OpenError matching models.ErrOpenFailure.
func (s *Service) Open(ctx context.Context, name, password string) (*Session, error) {
	if err := storage.ValidateSegment(name); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidVaultName, err)
	}

	ctx = events.WithVaultName(events.WithLogger(ctx, s.logger), name)
	logger := events.FromContext(ctx)

	salt, err := s.device.DeviceID()
	if err != nil {
		return nil, &models.OpenError{Vault: name, Err: fmt.Errorf("device id: %w", err)}
	}

	logger.Debug("Deriving vault key")
	key, err := s.crypto.DeriveKey(password, salt)
	if err != nil {
		return nil, &models.OpenError{Vault: name, Err: fmt.Errorf("derive key: %w", err)}
	}

	index := manifest.NewFileIndex(name, s.enc, s.logger)

	exists, err := index.Exists(ctx)
	if err != nil {
		crypto.Wipe(key)
		return nil, &models.OpenError{Vault: name, Err: err}
	}

	var items models.Manifest
	if exists {
		items, err = index.Load(ctx, key)
		if err != nil {
			crypto.Wipe(key)
			logger.WithField("code", models.ErrCodeOpen).WithError(err).Warn("Vault open failed")

			if errors.Is(err, crypto.ErrIntegrity) || errors.Is(err, manifest.ErrCorrupt) {
				err = fmt.Errorf("%w: %w", models.ErrOpenFailure, err)
			}
			return nil, &models.OpenError{Vault: name, Err: err}
		}
	} else {
		if err := index.Create(ctx, key); err != nil {
			crypto.Wipe(key)
			return nil, &models.OpenError{Vault: name, Err: fmt.Errorf("create vault: %w", err)}
		}
		items = models.Manifest{}
		logger.Info("Created vault")
	}

	if err := crypto.LockMemory(key); err != nil {
		logger.WithError(err).Debug("Key memory not locked")
	}

	session, err := newSession(s, name, key, index, items, logger)
	if err != nil {
		crypto.UnlockMemory(key)
		crypto.Wipe(key)
		return nil, err
	}

	logger.WithField("items", len(items)).Info("Opened vault")
	return session, nil
}

// List returns the names of vaults that have a manifest.
func (s *Service) List(ctx context.Context) ([]string, error) {
	entries, err := s.store.List(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list vaults: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		ok, err := s.store.Exists(ctx, e.Name, manifest.Name)
		if err != nil {
			return nil, fmt.Errorf("list vaults: %w", err)
		}
		if ok {
			names = append(names, e.Name)
		}
	}

	sort.Strings(names)
	return names, nil
}
