package citations

import (
	"fmt"
	"slices"
	"strings"

	"prct/prct/api"

	"github.com/bbalet/stopwords"
)

// IdentityKey is the dedup key for a citation: the normalized doi when
// present, otherwise a (stopword-stripped title, publication year) pair,
// otherwise the source's own record id. OpenCitations edges carry neither a
// doi nor a title, so without the record id fallback every doi-less edge in a
// year would share one key. The title fallback is probabilistic; two distinct
// works sharing a year and a near-identical title will merge. Empty means the
// citation has no usable identity and must not be merged with anything.
func IdentityKey(citation api.Citation) string {
	if citation.Doi != "" {
		return "doi:" + citation.Doi
	}
	if key := titleKey(citation.Title); key != "" {
		return fmt.Sprintf("title:%s:%d", key, citation.Date.Year())
	}
	if citation.SourceRecordId != "" {
		return "record:" + citation.SourceRecordId
	}
	return ""
}

func titleKey(title string) string {
	cleaned := stopwords.CleanString(strings.ToLower(title), "en", false)
	return strings.Join(strings.Fields(cleaned), " ")
}

var precisionRank = map[string]int{
	api.PrecisionDay:   3,
	api.PrecisionMonth: 2,
	api.PrecisionYear:  1,
}

// mergeInto folds other into citation: keep the most precise date, the longer
// title, the union of source tags, and any self-citation evidence.
func mergeInto(citation *api.Citation, other api.Citation) {
	if len(other.Title) > len(citation.Title) ||
		(len(other.Title) == len(citation.Title) && other.Title < citation.Title) {
		citation.Title = other.Title
	}
	otherRank, rank := precisionRank[other.DatePrecision], precisionRank[citation.DatePrecision]
	// On equal precision but disagreeing sources, the earlier date wins so
	// the merge result is independent of arrival order.
	if otherRank > rank || (otherRank == rank && other.Date.Before(citation.Date)) {
		citation.Date = other.Date
		citation.DatePrecision = other.DatePrecision
	}
	for _, source := range other.Sources {
		if !slices.Contains(citation.Sources, source) {
			citation.Sources = append(citation.Sources, source)
		}
	}
	if citation.TimespanDays == nil ||
		(other.TimespanDays != nil && *other.TimespanDays < *citation.TimespanDays) {
		citation.TimespanDays = other.TimespanDays
	}
	if other.SourceRecordId != "" &&
		(citation.SourceRecordId == "" || other.SourceRecordId < citation.SourceRecordId) {
		citation.SourceRecordId = other.SourceRecordId
	}
	citation.JournalSelfCitation = citation.JournalSelfCitation || other.JournalSelfCitation
	citation.AuthorSelfCitation = citation.AuthorSelfCitation || other.AuthorSelfCitation
}

// Merge deduplicates citations by identity key and reports how many records
// were folded in on the probabilistic title+year fallback. Citations with no
// identity at all pass through unmerged. The result is deterministic and
// independent of input order: stable sort by publication date ascending, then
// doi, then title, then record id.
func Merge(input []api.Citation) ([]api.Citation, int) {
	merged := make(map[string]*api.Citation, len(input))
	unkeyed := make([]*api.Citation, 0)
	fallbackMerges := 0

	for _, citation := range input {
		key := IdentityKey(citation)
		if key == "" {
			copied := citation
			copied.Sources = slices.Clone(citation.Sources)
			unkeyed = append(unkeyed, &copied)
			continue
		}
		if existing, ok := merged[key]; ok {
			mergeInto(existing, citation)
			if strings.HasPrefix(key, "title:") {
				fallbackMerges++
			}
		} else {
			copied := citation
			copied.Sources = slices.Clone(citation.Sources)
			merged[key] = &copied
		}
	}

	output := make([]api.Citation, 0, len(merged)+len(unkeyed))
	for _, citation := range merged {
		slices.Sort(citation.Sources)
		output = append(output, *citation)
	}
	for _, citation := range unkeyed {
		slices.Sort(citation.Sources)
		output = append(output, *citation)
	}

	slices.SortStableFunc(output, func(a, b api.Citation) int {
		if !a.Date.Equal(b.Date) {
			if a.Date.Before(b.Date) {
				return -1
			}
			return 1
		}
		if a.Doi != b.Doi {
			return strings.Compare(a.Doi, b.Doi)
		}
		if a.Title != b.Title {
			return strings.Compare(a.Title, b.Title)
		}
		return strings.Compare(a.SourceRecordId, b.SourceRecordId)
	})

	return output, fallbackMerges
}
