package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordRead("totalSupply", nil)
	m.RecordRead("totalSupply", errors.New("x"))
	m.RecordRead("totalSupply", nil)
	m.RecordTransaction("Issue", "confirmed")
	m.RecordConnect("wallet", nil)
	m.SetRefreshToken(7)

	out := scrape(t, m)
	assert.Contains(t, out, `plstrdash_reads_total{op="totalSupply",result="ok"} 2`)
	assert.Contains(t, out, `plstrdash_reads_total{op="totalSupply",result="error"} 1`)
	assert.Contains(t, out, `plstrdash_transactions_total{kind="Issue",status="confirmed"} 1`)
	assert.Contains(t, out, `plstrdash_connect_total{mode="wallet",result="ok"} 1`)
	assert.Contains(t, out, "plstrdash_refresh_token 7")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRead("x", nil)
		m.RecordTransaction("Issue", "failed")
		m.RecordConnect("read-only", nil)
		m.SetRefreshToken(1)
	})
	assert.Nil(t, m.Registry())
}
