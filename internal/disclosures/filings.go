package disclosures

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"marketscan/internal/aggregate"
	"marketscan/internal/edgar"
	"marketscan/internal/table"
)

// FilingPager fetches one feed page starting at an offset.
type FilingPager interface {
	Page(ctx context.Context, start int) ([]edgar.Filing, error)
	Offsets(pages int) []int
}

// FilingsResult is the outcome of a filings run.
type FilingsResult struct {
	Filings []edgar.Filing
	Report  aggregate.Report
}

// FilingsJob fetches the first pages of the filings feed concurrently.
type FilingsJob struct {
	src   FilingPager
	agg   *aggregate.Aggregator[int, []edgar.Filing]
	pages int
}

// NewFilingsJob creates a filings job reading pages feed pages.
func NewFilingsJob(src FilingPager, pages int, cfg aggregate.Config) (*FilingsJob, error) {
	if pages <= 0 {
		return nil, errPages(pages)
	}
	if cfg.Source == "" {
		cfg.Source = "filings"
	}
	agg, err := aggregate.New(src.Page, cfg)
	if err != nil {
		return nil, err
	}
	return &FilingsJob{src: src, agg: agg, pages: pages}, nil
}

// Run fetches every page and returns the filings, most recently updated
// first. The same filing listed on two pages is kept once.
func (j *FilingsJob) Run(ctx context.Context) (*FilingsResult, error) {
	out, err := j.agg.Run(ctx, j.src.Offsets(j.pages))
	if err != nil {
		return nil, err
	}

	res := &FilingsResult{Report: out.Report()}
	seen := make(map[string]struct{})
	for _, rec := range out.Records {
		for _, f := range rec.Value {
			if f.Link != "" {
				if _, dup := seen[f.Link]; dup {
					continue
				}
				seen[f.Link] = struct{}{}
			}
			res.Filings = append(res.Filings, f)
		}
	}
	SortFilings(res.Filings)
	return res, nil
}

// SortFilings orders filings by update time descending, then link
// ascending. Filings without an update time sort last.
func SortFilings(filings []edgar.Filing) {
	slices.SortStableFunc(filings, func(a, b edgar.Filing) int {
		return cmp.Or(
			newestFirst(a.Updated, b.Updated),
			cmp.Compare(a.Link, b.Link),
		)
	})
}

// FilingsTable renders filings in their current order.
func FilingsTable(filings []edgar.Filing) *table.Table {
	t := table.New("Filings", "Title", "Link", "Form", "Updated")
	for _, f := range filings {
		updated := table.Missing()
		if u, ok := f.Updated.Get(); ok {
			updated = table.Text(u.Format(time.RFC3339))
		}
		t.MustAppend(
			table.Text(f.Title),
			table.Text(f.Link),
			table.Text(f.Form),
			updated,
		)
	}
	return t
}

func errPages(n int) error {
	return fmt.Errorf("disclosures: page count must be positive, got %d", n)
}
