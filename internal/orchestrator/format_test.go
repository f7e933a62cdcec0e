package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrapeforge/harvester/internal/config"
	"github.com/scrapeforge/harvester/internal/types"
)

// Table-driven with testify: the format matrix (json/csv/default/unknown)
// is wide enough that require's one-liners cut real boilerplate versus the
// plain t.Fatalf style used elsewhere in this package.
func TestGetResultFormats(t *testing.T) {
	cases := []struct {
		name        string
		format      string
		wantErr     bool
		wantPrefix  string
		wantExactCT string
	}{
		{name: "default empty format is json", format: "", wantPrefix: "{", wantExactCT: "application/json"},
		{name: "explicit json", format: "json", wantPrefix: "{", wantExactCT: "application/json"},
		{name: "csv", format: "csv", wantPrefix: "url", wantExactCT: "text/csv"},
		{name: "unsupported format rejected", format: "xml", wantErr: true},
	}

	o := newTestOrchestrator(&fakeFetcher{}, config.BatchConfig{Concurrency: 2, GracefulShutdownMs: 50})
	id, err := o.StartJob(context.Background(), "batch", types.JobInput{URLs: []string{"http://example.com/a"}})
	require.NoError(t, err)
	job := waitForTerminal(t, o, id, 2*time.Second)
	require.Equal(t, types.JobCompleted, job.State)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, contentType, err := o.GetResult(context.Background(), id, tc.format)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantExactCT, contentType)
			require.Contains(t, string(body), tc.wantPrefix)
		})
	}
}
