package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Sign("job-1", "evaluations_slot-1.csv")
	require.NoError(t, err)

	claims, err := signer.Verify(token, false)
	require.NoError(t, err)
	assert.Equal(t, "job-1", claims.JobID)
	assert.Equal(t, "evaluations_slot-1.csv", claims.Path)
	assert.True(t, expiresAt.Equal(claims.ExpiresAt))
}

func TestSignedURLSignerExpiry(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	issued := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return issued }
	token, _, err := signer.Sign("job-1", "summary.pdf")
	require.NoError(t, err)

	signer.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = signer.Verify(token, false)
	assert.ErrorIs(t, err, ErrTokenExpired)

	claims, err := signer.Verify(token, true)
	require.NoError(t, err)
	assert.Equal(t, "summary.pdf", claims.Path)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Sign("job-1", "a.csv")
	require.NoError(t, err)
	forged, _, err := signer.Sign("job-2", "b.csv")
	require.NoError(t, err)

	body, _, _ := strings.Cut(token, ".")
	_, sig, _ := strings.Cut(forged, ".")
	_, err = signer.Verify(body+"."+sig, false)
	assert.ErrorIs(t, err, ErrTokenSignature)

	_, err = NewSignedURLSigner("other", time.Hour).Verify(token, false)
	assert.ErrorIs(t, err, ErrTokenSignature)

	_, err = signer.Verify("no-dot", false)
	assert.ErrorIs(t, err, ErrTokenMalformed)

	_, _, err = NewSignedURLSigner("", time.Hour).Sign("job", "a.csv")
	assert.Error(t, err)
}
