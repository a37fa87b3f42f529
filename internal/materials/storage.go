package materials

// MaterialRecord stores a material with its slides serialized as JSON.
type MaterialRecord struct {
	MaterialID       string  `gorm:"column:material_id;primaryKey;size:190;not null"`
	OwnerID          string  `gorm:"column:owner_id;size:190;not null;index"`
	Name             string  `gorm:"column:name;size:320;not null;default:''"`
	Visibility       string  `gorm:"column:visibility;size:32;not null;default:'private'"`
	PlaybackMethod   string  `gorm:"column:playback_method;size:64;not null;default:''"`
	PlaybackTiming   float64 `gorm:"column:playback_timing;not null;default:0"`
	SizingMode       string  `gorm:"column:sizing_mode;size:64;not null;default:''"`
	PluginsJSON      string  `gorm:"column:plugins_json;type:text;not null;default:'[]'"`
	SlidesJSON       string  `gorm:"column:slides_json;type:text;not null;default:'[]'"`
	Version          int64   `gorm:"column:version;not null;default:1"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MaterialRecord) TableName() string {
	return "materials"
}

// AttendeeRecord grants a user edit access to a material they do not own.
type AttendeeRecord struct {
	MaterialID       string `gorm:"column:material_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	InvitedAtSeconds int64  `gorm:"column:invited_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (AttendeeRecord) TableName() string {
	return "material_attendees"
}
