package citations

import (
	"time"

	"prct/prct/api"
)

// Bucket boundaries in days after the retraction date. Same-day citations
// count as day zero and land in the 30-day bucket.
const (
	days30  = 30
	days6mo = 182
	days1yr = 365
	days2yr = 730
)

// Classify computes the signed day offset between a citing publication date
// and the retraction date and buckets it. A missing retraction date or an
// unusable citing date yields the unknown bucket with no offset. Year-only
// citing dates resolve to January 1, which can misplace a citation near a
// boundary; the precision tag travels with the citation so consumers can
// discount those.
func Classify(retractionDate *time.Time, citingDate time.Time, precision string) api.Classification {
	if retractionDate == nil || precision == "" || citingDate.IsZero() {
		return api.Classification{Bucket: api.BucketUnknown}
	}

	offset := int(citingDate.Sub(*retractionDate) / (24 * time.Hour))

	classification := api.Classification{OffsetDays: &offset}
	switch {
	case offset < 0:
		classification.Bucket = api.BucketPreRetraction
	case offset <= days30:
		classification.Bucket = api.BucketWithin30Days
	case offset <= days6mo:
		classification.Bucket = api.BucketWithin6Months
	case offset <= days1yr:
		classification.Bucket = api.BucketWithin1Year
	case offset <= days2yr:
		classification.Bucket = api.BucketWithin2Years
	default:
		classification.Bucket = api.BucketAfter2Years
	}

	return classification
}
