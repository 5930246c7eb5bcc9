package service

import (
	"context"
	"strings"
	"testing"

	"github.com/newsrelay/internal/db"
	"github.com/newsrelay/internal/portal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishedDistribution(t *testing.T, h *publishHarness) db.NewsDistribution {
	t.Helper()
	f := h.fixture
	matchUser(t, h.db, f.user, f.alpha)
	post := h.post(t, f.alphaA.ID)
	results := h.publish(t, post)
	require.Equal(t, OutcomeSentSuccess, results[0].Outcome)
	return h.distribution(t, post.ID, f.alpha.ID)
}

func TestEditDistributionKeepsStatus(t *testing.T) {
	h := newPublishHarness(t)
	record := publishedDistribution(t, h)
	distributions := NewDistributionService(h.db, h.deliveries, h.gateway)

	h.gateway.byPortal["alpha"] = portal.Result{StatusCode: 500, Message: strings.Repeat("x", 600)}
	title := "  Edited title "
	trending := true
	result, err := distributions.Edit(context.Background(), record.ID, DistributionEditInput{Title: &title, Trending: &trending})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, uint(1), result.EditCount)
	assert.Equal(t, "r-1", result.PortalNewsID)

	require.Equal(t, 1, h.gateway.updates)
	sent := h.gateway.creates[len(h.gateway.creates)-1]
	assert.Equal(t, "Edited title", sent.Title)
	assert.True(t, sent.Trending)
	assert.Equal(t, "city,budget", sent.Tags)

	var stored db.NewsDistribution
	require.NoError(t, h.db.First(&stored, record.ID).Error)
	assert.Equal(t, db.DistributionSuccess, stored.Status)
	assert.Equal(t, "Edited title", stored.AITitle)
	assert.Equal(t, uint(1), stored.EditCount)
	assert.True(t, strings.HasPrefix(stored.ResponseMessage, "EDIT: "))
	assert.Len(t, []rune(stored.ResponseMessage), len("EDIT: ")+500)
}

func TestEditRequiresRemoteID(t *testing.T) {
	h := newPublishHarness(t)
	f := h.fixture
	post := h.post(t, f.betaA.ID)
	results := h.publish(t, post)
	require.Equal(t, OutcomeCredentialMissing, results[0].Outcome)

	distributions := NewDistributionService(h.db, h.deliveries, h.gateway)
	_, err := distributions.Edit(context.Background(), results[0].DistributionID, DistributionEditInput{})
	assert.ErrorIs(t, err, ErrMissingRemoteID)
	_, err = distributions.Fetch(context.Background(), results[0].DistributionID)
	assert.ErrorIs(t, err, ErrMissingRemoteID)
}

func TestDeleteDistribution(t *testing.T) {
	h := newPublishHarness(t)
	record := publishedDistribution(t, h)
	distributions := NewDistributionService(h.db, h.deliveries, h.gateway)
	ctx := context.Background()

	h.gateway.byPortal["alpha"] = portal.Result{StatusCode: 404, Message: "missing"}
	_, err := distributions.Delete(ctx, record.ID)
	assert.ErrorIs(t, err, ErrGateway)
	_, err = h.deliveries.Get(ctx, record.ID)
	require.NoError(t, err)

	delete(h.gateway.byPortal, "alpha")
	remote, err := distributions.Delete(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, remote)
	assert.Equal(t, 2, h.gateway.deletes)

	_, err = h.deliveries.Get(ctx, record.ID)
	assert.ErrorIs(t, err, ErrDistributionNotFound)
	assert.True(t, IsNotFound(err))
}

func TestDeleteLocalOnlyDistribution(t *testing.T) {
	h := newPublishHarness(t)
	f := h.fixture
	post := h.post(t, f.betaA.ID)
	results := h.publish(t, post)

	distributions := NewDistributionService(h.db, h.deliveries, h.gateway)
	remote, err := distributions.Delete(context.Background(), results[0].DistributionID)
	require.NoError(t, err)
	assert.False(t, remote)
	assert.Zero(t, h.gateway.deletes)
}

func TestFetchDistribution(t *testing.T) {
	h := newPublishHarness(t)
	record := publishedDistribution(t, h)
	distributions := NewDistributionService(h.db, h.deliveries, h.gateway)

	data, err := distributions.Fetch(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, data["id"])
	assert.Equal(t, 1, h.gateway.fetches)
}
