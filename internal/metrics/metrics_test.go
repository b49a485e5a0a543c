package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(emailsTotal.WithLabelValues("sent"))
	EmailSent("sent")
	EmailSent("sent")
	assert.InDelta(t, before+2, testutil.ToFloat64(emailsTotal.WithLabelValues("sent")), 0)

	before = testutil.ToFloat64(enrichmentsTotal.WithLabelValues(OutcomeSuccess))
	Enrichment(OutcomeSuccess)
	assert.InDelta(t, before+1, testutil.ToFloat64(enrichmentsTotal.WithLabelValues(OutcomeSuccess)), 0)

	before = testutil.ToFloat64(scrapedLeadsTotal.WithLabelValues(OutcomeDuplicate))
	ScrapedLead(OutcomeDuplicate)
	assert.InDelta(t, before+1, testutil.ToFloat64(scrapedLeadsTotal.WithLabelValues(OutcomeDuplicate)), 0)

	before = testutil.ToFloat64(tasksTotal.WithLabelValues("scrape.run", "done"))
	TaskFinished("scrape.run", "done", 2*time.Second)
	assert.InDelta(t, before+1, testutil.ToFloat64(tasksTotal.WithLabelValues("scrape.run", "done")), 0)
}

func TestHandler(t *testing.T) {
	EmailSent("failed")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `prospect_emails_total{status="failed"}`)
}
