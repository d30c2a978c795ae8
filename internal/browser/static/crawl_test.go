package static

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobs-crawler/internal/crawler"
	"github.com/JakeFAU/jobs-crawler/internal/id/uuid"
	"github.com/JakeFAU/jobs-crawler/internal/storage/memory"
)

func TestCrawlSiteEndToEnd(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	store := memory.NewJobStore()
	cfg := crawler.Config{
		RootURL:       srv.URL + "/",
		Locators:      crawler.DefaultLocators(),
		GroupCount:    2,
		Dedupe:        true,
		BatchSize:     2,
		FailurePolicy: crawler.FailurePolicyRetain,
	}
	o := crawler.NewOrchestrator(cfg, New(Config{Timeout: 5 * time.Second}, nil), store, uuid.New(),
		crawler.NewExponentialRetryPolicy(2), nil, nil, nil)

	stats, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, stats.Categories, "duplicate Go link and the third group are excluded")
	require.Equal(t, 3, stats.PagesLoaded)
	require.Equal(t, 4, stats.CardsExtracted)
	require.Equal(t, 1, stats.CardsSkipped)
	require.Equal(t, 4, stats.RecordsPersisted)
	require.Zero(t, stats.RecordsUnpersisted)

	records := store.Records()
	require.Len(t, records, 4)
	urls := make([]string, 0, len(records))
	for _, r := range records {
		require.Len(t, r.ID, 36)
		urls = append(urls, r.JobURL)
	}
	require.Equal(t, []string{
		srv.URL + "/q/go-1/",
		srv.URL + "/q/go-2/",
		srv.URL + "/q/go-3/",
		srv.URL + "/q/py-1/",
	}, urls)

	first := records[0]
	for name, tc := range map[string]struct {
		got  *string
		want string
	}{
		"title":        {first.Title, "Senior Go Developer"},
		"salary":       {first.Salary, "Go developers from $4500"},
		"country":      {first.Country, "Poland"},
		"experience":   {first.Experience, "5 years"},
		"job_status":   {first.JobStatus, "Active search"},
		"publish_date": {first.PublishDate, "12 March"},
		"description":  {first.Description, "Builds crawlers."},
	} {
		require.NotNil(t, tc.got, name)
		require.Equal(t, tc.want, *tc.got, name)
	}
	require.Equal(t, []string{"Go", "Kubernetes"}, first.Badges)

	require.Nil(t, records[2].Salary, "second page has no salary heading")
	require.Equal(t, []string{}, records[2].Badges)
}
