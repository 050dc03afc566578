package pipeline

import "Mansoor88-6/aw-sync-agent/internal/models"

// Outcome is what happened to a single raw event
type Outcome int

const (
	Emitted Outcome = iota
	Excluded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Emitted:
		return "emitted"
	case Excluded:
		return "excluded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ItemResult is the per-event outcome
type ItemResult struct {
	Outcome Outcome
	Record  models.NormalizedRecord
	Reason  string
	Err     error
}

// BucketResult aggregates the outcomes of one bucket. Err is set when the
// bucket as a whole could not be processed.
type BucketResult struct {
	Bucket   models.Bucket
	Items    []ItemResult
	Emitted  int
	Excluded int
	Failed   int
	Err      error
}

func (b *BucketResult) add(item ItemResult) {
	b.Items = append(b.Items, item)
	switch item.Outcome {
	case Emitted:
		b.Emitted++
	case Excluded:
		b.Excluded++
	case Failed:
		b.Failed++
	}
}

// Records returns the emitted records in input order
func (b BucketResult) Records() []models.NormalizedRecord {
	out := make([]models.NormalizedRecord, 0, b.Emitted)
	for _, item := range b.Items {
		if item.Outcome == Emitted {
			out = append(out, item.Record)
		}
	}
	return out
}

// Result aggregates every bucket processed in a cycle
type Result struct {
	Buckets       []BucketResult
	Records       []models.NormalizedRecord
	Emitted       int
	Excluded      int
	Failed        int
	BucketsFailed int
}

func (r *Result) add(b BucketResult) {
	r.Buckets = append(r.Buckets, b)
	if b.Err != nil {
		r.BucketsFailed++
		return
	}
	r.Records = append(r.Records, b.Records()...)
	r.Emitted += b.Emitted
	r.Excluded += b.Excluded
	r.Failed += b.Failed
}
