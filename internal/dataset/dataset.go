package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/planlens/planlens/internal/catalog"
	"github.com/planlens/planlens/internal/observability"
	"github.com/planlens/planlens/internal/storage"
	"github.com/planlens/planlens/internal/table"
)

var (
	ErrNotFound          = errors.New("dataset not found")
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	ErrTooLarge          = errors.New("dataset too large")
	ErrEmpty             = errors.New("dataset is empty")
	ErrInvalidData       = errors.New("dataset could not be decoded")
)

// maxRows <= 0 means no limit.
type Decoder interface {
	Decode(ctx context.Context, format Format, body io.Reader, maxRows int) (*table.Table, error)
}

type Config struct {
	MaxUploadBytes int64
	MaxRows        int
	PreviewRows    int
	CacheSize      int
}

func DefaultConfig() Config {
	return Config{
		MaxUploadBytes: 64 << 20,
		MaxRows:        1_000_000,
		PreviewRows:    5,
		CacheSize:      32,
	}
}

type Info struct {
	DatasetID   string         `json:"dataset_id"`
	OwnerID     string         `json:"owner_id"`
	Filename    string         `json:"filename"`
	Format      Format         `json:"format"`
	SizeBytes   int64          `json:"size_bytes"`
	RowCount    int            `json:"row_count"`
	ColumnCount int            `json:"column_count"`
	Columns     []table.Column `json:"columns"`
	CreatedAt   time.Time      `json:"created_at"`
}

type Description struct {
	Info
	Profile table.Profile `json:"metadata"`
}

type Service struct {
	catalog  catalog.Repository
	store    storage.ObjectStore
	decoders map[Format]Decoder
	cfg      Config
	cache    *tableCache
	loads    singleflight.Group
	logger   *slog.Logger
	newID    func() string
}

func NewService(repo catalog.Repository, store storage.ObjectStore, decoders map[Format]Decoder, cfg Config, logger *slog.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository is required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := newTableCache(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create dataset cache: %w", err)
	}
	return &Service{
		catalog:  repo,
		store:    store,
		decoders: decoders,
		cfg:      cfg,
		cache:    cache,
		logger:   logger,
		newID:    uuid.NewString,
	}, nil
}

func (s *Service) Upload(ctx context.Context, ownerID, filename string, body io.Reader) (info Info, err error) {
	format, err := FormatFromFilename(filename)
	if err != nil {
		return Info{}, err
	}
	defer func() { observability.ObserveUpload(string(format), info.SizeBytes, err) }()

	if err := storage.ValidatePathComponent(ownerID, "owner id"); err != nil {
		return Info{}, err
	}
	data, err := s.readBody(body)
	if err != nil {
		return Info{}, err
	}
	if len(data) == 0 {
		return Info{}, ErrEmpty
	}

	t, err := s.decode(ctx, format, bytes.NewReader(data))
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, ErrTooLarge) && !errors.Is(err, ErrUnsupportedFormat) {
			err = fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		return Info{}, err
	}

	datasetID := s.newID()
	objectPath, err := storage.BuildDatasetObjectPath(ownerID, datasetID, format.Extension())
	if err != nil {
		return Info{}, err
	}
	stored, err := s.store.Put(ctx, objectPath, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: format.ContentType()})
	if err != nil {
		return Info{}, fmt.Errorf("store dataset source: %w", err)
	}

	schemaJSON, err := json.Marshal(t.Columns())
	if err != nil {
		return Info{}, fmt.Errorf("encode dataset schema: %w", err)
	}
	ds, err := s.catalog.CreateDataset(ctx, catalog.CreateDatasetInput{
		DatasetID:   datasetID,
		OwnerID:     ownerID,
		Filename:    filename,
		Format:      string(format),
		ObjectPath:  objectPath,
		SizeBytes:   int64(len(data)),
		RowCount:    t.NumRows(),
		ColumnCount: t.NumColumns(),
		SchemaJSON:  schemaJSON,
	})
	if err != nil {
		if deleteErr := s.store.Delete(context.WithoutCancel(ctx), objectPath); deleteErr != nil {
			s.logger.ErrorContext(ctx, "orphaned dataset object", slog.String("object_path", objectPath), slog.Any("error", deleteErr))
		}
		return Info{}, fmt.Errorf("register dataset: %w", err)
	}

	s.cache.add(ownerID, datasetID, t)
	s.logger.InfoContext(ctx, "dataset uploaded",
		slog.String("dataset_id", datasetID),
		slog.String("owner_id", ownerID),
		slog.String("format", string(format)),
		slog.Int("rows", t.NumRows()),
		slog.Int("columns", t.NumColumns()),
		slog.String("etag", stored.ETag),
	)
	return infoFromCatalog(ds), nil
}

// Concurrent loads share one decode that outlives the first caller's context.
func (s *Service) Load(ctx context.Context, ownerID, datasetID string) (*table.Table, error) {
	if t, ok := s.cache.get(ownerID, datasetID); ok {
		observability.ObserveDatasetLoad("cache")
		return t, nil
	}
	result, err, _ := s.loads.Do(loadKey(ownerID, datasetID), func() (any, error) {
		return s.loadFromStore(context.WithoutCancel(ctx), ownerID, datasetID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*table.Table), nil
}

func loadKey(ownerID, datasetID string) string { return ownerID + "\x00" + datasetID }

func (s *Service) loadFromStore(ctx context.Context, ownerID, datasetID string) (*table.Table, error) {
	gen := s.cache.generation()
	ds, err := s.lookup(ctx, ownerID, datasetID)
	if err != nil {
		return nil, err
	}
	format, err := ParseFormat(ds.Format)
	if err != nil {
		return nil, err
	}
	reader, err := s.store.Get(ctx, ds.ObjectPath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: source object missing", ErrNotFound)
		}
		return nil, fmt.Errorf("read dataset source: %w", err)
	}
	defer func() { _ = reader.Close() }()

	t, err := s.decode(ctx, format, reader)
	if err != nil {
		return nil, err
	}
	s.cache.addIfCurrent(ownerID, datasetID, t, gen)
	observability.ObserveDatasetLoad("store")
	return t, nil
}

func (s *Service) Get(ctx context.Context, ownerID, datasetID string) (Info, error) {
	ds, err := s.lookup(ctx, ownerID, datasetID)
	if err != nil {
		return Info{}, err
	}
	return infoFromCatalog(ds), nil
}

func (s *Service) Describe(ctx context.Context, ownerID, datasetID string, previewRows int) (Description, error) {
	info, err := s.Get(ctx, ownerID, datasetID)
	if err != nil {
		return Description{}, err
	}
	t, err := s.Load(ctx, ownerID, datasetID)
	if err != nil {
		return Description{}, err
	}
	return Description{Info: info, Profile: t.Profile(table.ClampPreviewRows(previewRows, s.cfg.PreviewRows))}, nil
}

func (s *Service) Health(ctx context.Context, ownerID, datasetID string) (table.Health, error) {
	t, err := s.Load(ctx, ownerID, datasetID)
	if err != nil {
		return table.Health{}, err
	}
	return t.Health(), nil
}

func (s *Service) List(ctx context.Context, ownerID string, limit int) ([]Info, error) {
	datasets, err := s.catalog.ListDatasets(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	out := make([]Info, 0, len(datasets))
	for _, ds := range datasets {
		out = append(out, infoFromCatalog(ds))
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, ownerID, datasetID string) error {
	ds, err := s.lookup(ctx, ownerID, datasetID)
	if err != nil {
		return err
	}
	deleted, err := s.catalog.DeleteDataset(ctx, ownerID, datasetID)
	if err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}
	s.loads.Forget(loadKey(ownerID, datasetID))
	s.cache.remove(ownerID, datasetID)
	if err := s.store.Delete(ctx, ds.ObjectPath); err != nil {
		s.logger.WarnContext(ctx, "dataset source not deleted", slog.String("object_path", ds.ObjectPath), slog.Any("error", err))
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, ownerID, datasetID string) (catalog.Dataset, error) {
	if strings.TrimSpace(datasetID) == "" {
		return catalog.Dataset{}, ErrNotFound
	}
	ds, err := s.catalog.GetDataset(ctx, ownerID, datasetID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return catalog.Dataset{}, ErrNotFound
		}
		return catalog.Dataset{}, fmt.Errorf("get dataset: %w", err)
	}
	return ds, nil
}

func (s *Service) decode(ctx context.Context, format Format, body io.Reader) (*table.Table, error) {
	decoder, ok := s.decoders[format]
	if !ok {
		return nil, fmt.Errorf("%w: no decoder for %s", ErrUnsupportedFormat, format)
	}
	start := time.Now()
	t, err := decoder.Decode(ctx, format, body, s.cfg.MaxRows)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}
	observability.ObserveDecode(string(format), time.Since(start))
	return t, nil
}

func (s *Service) readBody(body io.Reader) ([]byte, error) {
	if s.cfg.MaxUploadBytes <= 0 {
		return io.ReadAll(body)
	}
	data, err := io.ReadAll(io.LimitReader(body, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: upload exceeds %d bytes", ErrTooLarge, s.cfg.MaxUploadBytes)
	}
	return data, nil
}

func infoFromCatalog(ds catalog.Dataset) Info {
	info := Info{
		DatasetID:   ds.DatasetID,
		OwnerID:     ds.OwnerID,
		Filename:    ds.Filename,
		Format:      Format(ds.Format),
		SizeBytes:   ds.SizeBytes,
		RowCount:    ds.RowCount,
		ColumnCount: ds.ColumnCount,
		Columns:     []table.Column{},
		CreatedAt:   ds.CreatedAt,
	}
	if len(ds.SchemaJSON) > 0 {
		_ = json.Unmarshal(ds.SchemaJSON, &info.Columns)
	}
	return info
}
