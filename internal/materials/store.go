package materials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrMaterialNotFound indicates that no material exists with the requested id.
	ErrMaterialNotFound = errors.New("materials: material not found")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries an operation.reason code around the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew     = "materials.store.new"
	opCreate       = "materials.create"
	opLoad         = "materials.load"
	opSave         = "materials.save"
	opInvite       = "materials.invite"
	opIsAttendee   = "materials.is_attendee"
	fieldMaterial  = "material_id"
	fieldUser      = "user_id"
	queryMaterial  = fieldMaterial + " = ?"
	queryAttendee  = fieldMaterial + " = ? AND " + fieldUser + " = ?"
	reasonNotFound = "not_found"
	reasonEncode   = "encode_failed"
	reasonDecode   = "decode_failed"
	reasonQuery    = "query_failed"
	reasonWrite    = "write_failed"
	reasonInvalid  = "invalid_id"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// StoreConfig describes the dependencies of the material store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store loads and saves materials through GORM.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Create inserts a new material.
func (s *Store) Create(ctx context.Context, material Material) error {
	materialID, err := ValidateID(material.ID)
	if err != nil {
		return newServiceError(opCreate, reasonInvalid, err)
	}
	material.ID = materialID
	if material.Metadata.Visibility == "" {
		material.Metadata.Visibility = VisibilityPrivate
	}
	if material.Version <= 0 {
		material.Version = 1
	}
	record, err := s.toRecord(material)
	if err != nil {
		s.logError(opCreate, reasonEncode, err, zap.String(fieldMaterial, material.ID))
		return newServiceError(opCreate, reasonEncode, err)
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreate, reasonWrite, err, zap.String(fieldMaterial, material.ID))
		return newServiceError(opCreate, reasonWrite, err)
	}
	return nil
}

// Load returns the stored material or ErrMaterialNotFound.
func (s *Store) Load(ctx context.Context, materialID string) (Material, error) {
	var record MaterialRecord
	err := s.db.WithContext(ctx).Where(queryMaterial, materialID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Material{}, newServiceError(opLoad, reasonNotFound, ErrMaterialNotFound)
	}
	if err != nil {
		s.logError(opLoad, reasonQuery, err, zap.String(fieldMaterial, materialID))
		return Material{}, newServiceError(opLoad, reasonQuery, err)
	}
	material, err := fromRecord(record)
	if err != nil {
		s.logError(opLoad, reasonDecode, err, zap.String(fieldMaterial, materialID))
		return Material{}, newServiceError(opLoad, reasonDecode, err)
	}
	return material, nil
}

// Save overwrites the stored slides and metadata of an existing material
// and bumps its version. The owner is never changed.
func (s *Store) Save(ctx context.Context, material Material) error {
	record, err := s.toRecord(material)
	if err != nil {
		s.logError(opSave, reasonEncode, err, zap.String(fieldMaterial, material.ID))
		return newServiceError(opSave, reasonEncode, err)
	}
	result := s.db.WithContext(ctx).
		Model(&MaterialRecord{}).
		Where(queryMaterial, material.ID).
		Updates(map[string]interface{}{
			"name":            record.Name,
			"visibility":      record.Visibility,
			"playback_method": record.PlaybackMethod,
			"playback_timing": record.PlaybackTiming,
			"sizing_mode":     record.SizingMode,
			"plugins_json":    record.PluginsJSON,
			"slides_json":     record.SlidesJSON,
			"updated_at_s":    record.UpdatedAtSeconds,
			"version":         gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		s.logError(opSave, reasonWrite, result.Error, zap.String(fieldMaterial, material.ID))
		return newServiceError(opSave, reasonWrite, result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opSave, reasonNotFound, ErrMaterialNotFound)
	}
	return nil
}

// Invite grants userID edit access to the material.
func (s *Store) Invite(ctx context.Context, materialID, userID string) error {
	record := AttendeeRecord{
		MaterialID:       materialID,
		UserID:           userID,
		InvitedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
		s.logError(opInvite, reasonWrite, err, zap.String(fieldMaterial, materialID), zap.String(fieldUser, userID))
		return newServiceError(opInvite, reasonWrite, err)
	}
	return nil
}

// IsAttendee reports whether userID was invited to the material.
func (s *Store) IsAttendee(ctx context.Context, materialID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&AttendeeRecord{}).
		Where(queryAttendee, materialID, userID).
		Count(&count).Error
	if err != nil {
		s.logError(opIsAttendee, reasonQuery, err, zap.String(fieldMaterial, materialID), zap.String(fieldUser, userID))
		return false, newServiceError(opIsAttendee, reasonQuery, err)
	}
	return count > 0, nil
}

func (s *Store) toRecord(material Material) (MaterialRecord, error) {
	slides := material.Slides
	if slides == nil {
		slides = []Slide{}
	}
	slidesJSON, err := json.Marshal(slides)
	if err != nil {
		return MaterialRecord{}, err
	}
	plugins := material.Metadata.Plugins
	if plugins == nil {
		plugins = []json.RawMessage{}
	}
	pluginsJSON, err := json.Marshal(plugins)
	if err != nil {
		return MaterialRecord{}, err
	}
	return MaterialRecord{
		MaterialID:       material.ID,
		OwnerID:          material.OwnerID,
		Name:             material.Metadata.Name,
		Visibility:       material.Metadata.Visibility,
		PlaybackMethod:   material.Metadata.PlaybackMethod,
		PlaybackTiming:   material.Metadata.PlaybackTiming,
		SizingMode:       material.Metadata.SizingMode,
		PluginsJSON:      string(pluginsJSON),
		SlidesJSON:       string(slidesJSON),
		Version:          material.Version,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}, nil
}

func fromRecord(record MaterialRecord) (Material, error) {
	material := Material{
		ID:      record.MaterialID,
		OwnerID: record.OwnerID,
		Metadata: Metadata{
			Name:           record.Name,
			Visibility:     record.Visibility,
			PlaybackMethod: record.PlaybackMethod,
			PlaybackTiming: record.PlaybackTiming,
			SizingMode:     record.SizingMode,
		},
		Version: record.Version,
	}
	if record.SlidesJSON != "" {
		if err := json.Unmarshal([]byte(record.SlidesJSON), &material.Slides); err != nil {
			return Material{}, err
		}
	}
	if record.PluginsJSON != "" {
		if err := json.Unmarshal([]byte(record.PluginsJSON), &material.Metadata.Plugins); err != nil {
			return Material{}, err
		}
	}
	material.sortSlides()
	return material, nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("materials store error", attrs...)
}
