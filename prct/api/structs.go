package api

import (
	"time"

	"github.com/google/uuid"
)

const (
	OpenAlexSource        = "openalex"
	SemanticScholarSource = "semanticscholar"
	OpenCitationsSource   = "opencitations"
	CrossRefSource        = "crossref"
)

// Date precision tags for citation publication dates. Many sources only
// report a year or a year-month; the resolved date is always a full calendar
// date but the tag records how much of it is real.
const (
	PrecisionDay   = "day"
	PrecisionMonth = "month"
	PrecisionYear  = "year"
)

const (
	BucketPreRetraction = "pre-retraction"
	BucketWithin30Days  = "within-30-days"
	BucketWithin6Months = "within-6-months"
	BucketWithin1Year   = "within-1-year"
	BucketWithin2Years  = "within-2-years"
	BucketAfter2Years   = "after-2-years"
	BucketUnknown       = "unknown"
)

type RetractedWork struct {
	Id uuid.UUID

	Doi   string
	Title string

	// Nil when the retraction watch record has no usable retraction date.
	RetractionDate  *time.Time
	PublicationDate *time.Time
}

// CitationCandidate is a raw citing-work record as returned by one source,
// before normalization. PublicationDate is the source's raw date string,
// which may be year-only ("2021"), year-month ("2021-05"), or a full date.
type CitationCandidate struct {
	Source string

	Doi   string
	Title string

	// Source-native id of the citing record (OpenAlex work url, Semantic
	// Scholar paper id, OCI). Dedup identity of last resort for records with
	// neither a doi nor a title, like OpenCitations edges.
	SourceRecordId string

	PublicationDate string

	// Days between the citing and cited publication dates, when the source
	// reports it (OpenCitations timespan). Used as a cross-check only.
	TimespanDays *int

	JournalSelfCitation bool
	AuthorSelfCitation  bool
}

type Classification struct {
	// Citing publication date minus retraction date, in days. Negative means
	// the citation predates the retraction. Nil when the retraction date is
	// unknown or the citing date is unusable.
	OffsetDays *int
	Bucket     string
}

// Citation is the canonical deduplicated form of a citing work. A citation
// seen by two sources keeps both source tags after dedup.
type Citation struct {
	Doi   string
	Title string

	SourceRecordId string

	Date          time.Time
	DatePrecision string

	Sources []string

	TimespanDays *int

	JournalSelfCitation bool
	AuthorSelfCitation  bool

	Classification Classification
}

type SourceStatus struct {
	Succeeded  bool
	Candidates int
	Attempts   int
	Error      string
}

type Summary struct {
	Total          int
	PreRetraction  int
	PostRetraction int
	SameDay        int

	Buckets map[string]int

	// Data-quality findings the caller should surface rather than fix:
	// inconsistent date pairs, probabilistic title+year merges, timespan
	// disagreements.
	Warnings []string
}

type FetchResult struct {
	Doi string

	Citations []Citation
	Summary   Summary

	SourceStatus map[string]SourceStatus

	Elapsed time.Duration
}
