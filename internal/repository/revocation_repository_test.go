package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// A token past its expiry cannot be used, so recording it is skipped before
// Redis is ever touched.
func TestRevocationRepositoryNonPositiveTTLSkipsWrite(t *testing.T) {
	repo := NewRevocationRepository(nil)

	require.NoError(t, repo.Revoke(context.Background(), "jti-1", 0))
	require.NoError(t, repo.Revoke(context.Background(), "jti-1", -time.Minute))
}
