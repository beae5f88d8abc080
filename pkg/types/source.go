package types

import "time"

// SourceCategory classifies an origin domain into a fixed small set.
type SourceCategory string

const (
	SourceJournal      SourceCategory = "journal"
	SourceGovernment   SourceCategory = "government"
	SourceEducation    SourceCategory = "education"
	SourceOrganization SourceCategory = "organization"
	SourceNews         SourceCategory = "news"
	SourceBlog         SourceCategory = "blog"
	SourceOther        SourceCategory = "other"
)

// QualityFlags are the observable quality signals of a source document.
type QualityFlags struct {
	HasCitations   bool
	HasMethodology bool
}

// SourceRecord is one entry per distinct origin URL. Records are upserted:
// inserted when a chunk first references the URL, otherwise the reference
// count is incremented and last-seen refreshed. Credibility is derived
// deterministically from domain pattern plus quality flags, never hand-edited.
type SourceRecord struct {
	ID          int64
	URL         string
	Domain      string
	Category    SourceCategory
	Credibility float64
	Flags       QualityFlags
	RefCount    int64
	FirstSeen   time.Time
	LastSeen    time.Time
}
