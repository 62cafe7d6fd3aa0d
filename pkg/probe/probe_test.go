package probe

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plstrdash/pkg/chaintest"
	"plstrdash/pkg/config"
)

func TestFirstAvailableSkipsDeadEndpoints(t *testing.T) {
	down := chaintest.New(t)
	down.SetDown(true)
	up := chaintest.New(t)
	up.SetChainID(369)

	ep, failed, err := FirstAvailable(context.Background(), []string{down.URL, up.URL}, time.Second)
	require.NoError(t, err)
	defer ep.Close()

	assert.Equal(t, up.URL, ep.URL)
	assert.Equal(t, uint64(369), ep.ChainID)
	assert.Equal(t, []string{down.URL}, failed)
}

func TestFirstAvailableAllSlow(t *testing.T) {
	var urls []string
	for i := 0; i < 3; i++ {
		n := chaintest.New(t)
		n.SetDelay(time.Second)
		urls = append(urls, n.URL)
	}

	start := time.Now()
	ep, failed, err := FirstAvailable(context.Background(), urls, 50*time.Millisecond)
	assert.Nil(t, ep)
	assert.Error(t, err)
	assert.Len(t, failed, 3)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFirstAvailableNoURLs(t *testing.T) {
	_, _, err := FirstAvailable(context.Background(), nil, time.Second)
	assert.Error(t, err)
}

func TestTestConfig(t *testing.T) {
	a := chaintest.New(t)
	b := chaintest.New(t)
	b.SetChainID(5)

	cfg := config.Default()
	cfg.Chain.ChainID = 0
	cfg.Chain.RPCURLs = []string{a.URL, b.URL}

	var out strings.Builder
	report := TestConfig(context.Background(), &cfg, &out)

	assert.True(t, report.ValidStructure)
	assert.True(t, report.ConfigUpdated)
	assert.True(t, report.Inconsistent)
	assert.Equal(t, int64(1), cfg.Chain.ChainID)
	assert.Equal(t, int64(1), report.ObservedChainID)
	require.Len(t, report.RPCs, 2)
	assert.Equal(t, "ok", report.RPCs[0].Status)
	assert.Contains(t, report.RPCs[1].Error, "Mismatch")
	require.Len(t, report.Contracts, 2)
	assert.True(t, report.Contracts[0].HasCode)
	assert.Contains(t, out.String(), "UPDATED CONFIG")
}

func TestTestConfigInvalidStructure(t *testing.T) {
	cfg := config.Default()
	cfg.Chain.RPCURLs = nil

	report := TestConfig(context.Background(), &cfg, io.Discard)
	assert.False(t, report.ValidStructure)
	assert.NotEmpty(t, report.StructureErrors)
	assert.Empty(t, report.RPCs)
}
