package schema

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const (
	FetchQueued     = "queued"
	FetchInProgress = "in-progress"
	FetchFailed     = "failed"
	FetchCompleted  = "complete"
)

type RetractedWork struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Doi   string `gorm:"uniqueIndex;not null"`
	Title string

	RetractionDate  sql.NullTime
	PublicationDate sql.NullTime

	StatusUpdatedAt time.Time
	Status          string `gorm:"size:20;not null"`

	LastFetchedAt sql.NullTime

	Citations []Citation `gorm:"foreignKey:WorkId;constraint:OnDelete:CASCADE"`
	FetchLogs []FetchLog `gorm:"foreignKey:WorkId;constraint:OnDelete:CASCADE"`
}

// Citation rows are keyed by (work, dedup key) so repeat fetches upsert
// rather than duplicate. Sources is the comma-joined sorted source tag set.
type Citation struct {
	WorkId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	DedupKey string    `gorm:"size:512;primaryKey"`

	Doi   string
	Title string

	PublishedOn   sql.NullTime
	DatePrecision string `gorm:"size:10"`

	Sources string `gorm:"not null"`

	OffsetDays sql.NullInt64
	Bucket     string `gorm:"size:20;index"`

	JournalSelfCitation bool
	AuthorSelfCitation  bool

	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// FetchLog records the per-source outcome of one fetch attempt, replacing
// the previous attempt's row for that source.
type FetchLog struct {
	WorkId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Source string    `gorm:"size:20;primaryKey"`

	Succeeded  bool
	Candidates int
	Attempts   int
	Error      string

	Timestamp time.Time
}
