package models

import "time"

// Favorite is a saved selection, either global or bound to one zone.
// Slot gives the ordering shown on wall panels; slots are dense per scope.
type Favorite struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	ZoneID    *int   `gorm:"index"` // nil means global
	Slot      int    `gorm:"index"`
	Title     string
	Audiopath string
	Cover     string
	AudioType AudioType
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recent is one play-history entry of a zone.
type Recent struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	ZoneID    int    `gorm:"index"`
	Title     string
	Artist    string
	Album     string
	Station   string
	Cover     string
	Audiopath string
	AudioType AudioType
	PlayedAt  time.Time `gorm:"index"`
}

// CustomRadio is a user-defined stream URL playable as a station.
type CustomRadio struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"uniqueIndex"`
	URL       string
	Cover     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AlertRule is a scheduled alert: play a sound on a set of zones at a
// fixed volume, then restore whatever played before.
type AlertRule struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"uniqueIndex"`
	CronExpr  string
	Sound     string // audiopath or file under the alert sound dir
	Zones     []int  `gorm:"serializer:json"`
	Volume    int
	Enabled   bool `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ZoneSnapshot persists the last observable state of a zone so queue,
// volume and selection survive a daemon restart.
type ZoneSnapshot struct {
	ZoneID    int    `gorm:"primaryKey"`
	Payload   []byte // JSON: ZoneState plus queue items
	UpdatedAt time.Time
}

// Track is one indexed file of the local music library. Metadata is
// derived from the artist/album/title directory layout during scan.
type Track struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	Path       string `gorm:"uniqueIndex"` // relative to the music root
	Title      string `gorm:"index"`
	Artist     string `gorm:"index"`
	Album      string `gorm:"index"`
	DurationMs int64
	CoverPath  string // sibling cover image, if found
	SizeBytes  int64
	ModTime    time.Time
	ScannedAt  time.Time
}

