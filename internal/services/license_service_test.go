package services

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "keygated/internal/errors"
	"keygated/internal/keygen"
	"keygated/internal/ledger"
)

func newTestService(t *testing.T, opts Options) (LicenseService, *ledger.Store, *keygen.Deriver) {
	t.Helper()
	store := ledger.Open(filepath.Join(t.TempDir(), "data.json"), nil)
	deriver := keygen.NewDeriver("test-secret")
	svc := NewLicenseService(store, deriver, nil, NewMetrics(), opts)
	return svc, store, deriver
}

func TestSubmitRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("missing hardware id", func(t *testing.T) {
		svc, _, _ := newTestService(t, Options{})
		_, err := svc.SubmitRequest(ctx, SubmitInput{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrMissingHardwareID))
	})

	t.Run("stores pending request", func(t *testing.T) {
		svc, store, _ := newTestService(t, Options{})

		id, err := svc.SubmitRequest(ctx, SubmitInput{
			HardwareID: "HW1",
			UserName:   "alice",
			Note:       "workstation",
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		req, ok := store.FindRequest(id)
		require.True(t, ok)
		assert.Equal(t, ledger.StatusPending, req.Status)
		assert.Equal(t, "HW1", req.HardwareID)
		assert.Equal(t, "alice", req.UserName)
		assert.False(t, req.CreatedAt.IsZero())
	})

	t.Run("ids are unique", func(t *testing.T) {
		svc, _, _ := newTestService(t, Options{})

		idShape := regexp.MustCompile(`^[0-9a-z]+-[0-9a-f]{6}$`)

		seen := make(map[string]bool)
		for i := 0; i < 50; i++ {
			id, err := svc.SubmitRequest(ctx, SubmitInput{HardwareID: "HW1"})
			require.NoError(t, err)
			require.False(t, seen[id], "duplicate request id %s", id)
			assert.Regexp(t, idShape, id)
			seen[id] = true
		}
	})
}

func TestGenerateKey(t *testing.T) {
	ctx := context.Background()

	t.Run("missing hardware id", func(t *testing.T) {
		svc, _, _ := newTestService(t, Options{})
		_, err := svc.GenerateKey(ctx, "", "")
		assert.True(t, errors.Is(err, apperrors.ErrMissingHardwareID))
	})

	t.Run("returns the derived key", func(t *testing.T) {
		svc, _, deriver := newTestService(t, Options{})

		key, err := svc.GenerateKey(ctx, "HW1", "")
		require.NoError(t, err)
		assert.Equal(t, deriver.Derive("HW1"), key)
	})

	t.Run("marks linked request issued", func(t *testing.T) {
		svc, store, _ := newTestService(t, Options{})

		id, err := svc.SubmitRequest(ctx, SubmitInput{HardwareID: "HW1"})
		require.NoError(t, err)

		_, err = svc.GenerateKey(ctx, "HW1", id)
		require.NoError(t, err)

		req, ok := store.FindRequest(id)
		require.True(t, ok)
		assert.Equal(t, ledger.StatusIssued, req.Status)
	})

	t.Run("stale request id succeeds anyway", func(t *testing.T) {
		svc, store, deriver := newTestService(t, Options{})

		key, err := svc.GenerateKey(ctx, "HW1", "no-such-request")
		require.NoError(t, err)
		assert.Equal(t, deriver.Derive("HW1"), key)
		assert.Contains(t, store.Snapshot().Issued, key)
	})

	t.Run("idempotent re-issuance keeps one record", func(t *testing.T) {
		svc, store, _ := newTestService(t, Options{})

		first, err := svc.GenerateKey(ctx, "HW1", "")
		require.NoError(t, err)
		firstRec := store.Snapshot().Issued[first]

		second, err := svc.GenerateKey(ctx, "HW1", "")
		require.NoError(t, err)
		assert.Equal(t, first, second)

		doc := store.Snapshot()
		require.Len(t, doc.Issued, 1)
		assert.False(t, doc.Issued[second].IssuedAt.Before(firstRec.IssuedAt))
	})

	t.Run("re-issuance reinstates a revoked key", func(t *testing.T) {
		svc, store, _ := newTestService(t, Options{})

		key, err := svc.GenerateKey(ctx, "HW1", "")
		require.NoError(t, err)
		require.NoError(t, svc.RevokeKey(ctx, key))
		require.True(t, store.Snapshot().Issued[key].Revoked)

		_, err = svc.GenerateKey(ctx, "HW1", "")
		require.NoError(t, err)

		rec := store.Snapshot().Issued[key]
		assert.False(t, rec.Revoked)
		assert.Nil(t, rec.RevokedAt)
	})
}

func TestVerifyKey(t *testing.T) {
	ctx := context.Background()

	t.Run("missing fields", func(t *testing.T) {
		svc, _, deriver := newTestService(t, Options{})

		_, err := svc.VerifyKey(ctx, "", "HW1")
		assert.True(t, errors.Is(err, apperrors.ErrMissingKey))

		_, err = svc.VerifyKey(ctx, deriver.Derive("HW1"), "")
		assert.True(t, errors.Is(err, apperrors.ErrMissingHardwareID))
	})

	t.Run("derived key verifies", func(t *testing.T) {
		svc, _, deriver := newTestService(t, Options{})

		valid, err := svc.VerifyKey(ctx, deriver.Derive("HW1"), "HW1")
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("unissued key still verifies", func(t *testing.T) {
		// Verification is stateless recompute-and-compare: a key never
		// issued through the approval workflow verifies as long as it
		// matches the derivation.
		svc, store, deriver := newTestService(t, Options{})
		require.Empty(t, store.Snapshot().Issued)

		valid, err := svc.VerifyKey(ctx, deriver.Derive("HW9"), "HW9")
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("mismatched hardware id fails", func(t *testing.T) {
		svc, _, deriver := newTestService(t, Options{})

		valid, err := svc.VerifyKey(ctx, deriver.Derive("HW1"), "HW2")
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("normalization", func(t *testing.T) {
		svc, _, deriver := newTestService(t, Options{})

		sloppy := "  " + strings.ToLower(deriver.Derive("HW1")) + " \n"
		valid, err := svc.VerifyKey(ctx, sloppy, "HW1")
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("revoked key still verifies by default", func(t *testing.T) {
		svc, _, _ := newTestService(t, Options{})

		key, err := svc.GenerateKey(ctx, "HW1", "")
		require.NoError(t, err)
		require.NoError(t, svc.RevokeKey(ctx, key))

		valid, err := svc.VerifyKey(ctx, key, "HW1")
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("revoked key rejected with enforcement", func(t *testing.T) {
		svc, _, _ := newTestService(t, Options{EnforceRevocation: true})

		key, err := svc.GenerateKey(ctx, "HW1", "")
		require.NoError(t, err)

		valid, err := svc.VerifyKey(ctx, key, "HW1")
		require.NoError(t, err)
		require.True(t, valid, "issued and unrevoked must verify")

		require.NoError(t, svc.RevokeKey(ctx, key))

		valid, err = svc.VerifyKey(ctx, key, "HW1")
		require.NoError(t, err)
		assert.False(t, valid)

		// Lower-cased input must hit the same ledger entry.
		valid, err = svc.VerifyKey(ctx, strings.ToLower(key), "HW1")
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("enforcement leaves unissued keys valid", func(t *testing.T) {
		svc, _, deriver := newTestService(t, Options{EnforceRevocation: true})

		valid, err := svc.VerifyKey(ctx, deriver.Derive("HW5"), "HW5")
		require.NoError(t, err)
		assert.True(t, valid)
	})
}

func TestRevokeKey(t *testing.T) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		svc, _, _ := newTestService(t, Options{})
		err := svc.RevokeKey(ctx, "")
		assert.True(t, errors.Is(err, apperrors.ErrMissingKey))
	})

	t.Run("never issued", func(t *testing.T) {
		svc, _, _ := newTestService(t, Options{})
		err := svc.RevokeKey(ctx, "AAAA-BBBB-CCCC-DDDD-EEEE")
		assert.True(t, errors.Is(err, apperrors.ErrKeyNotFound))
	})

	t.Run("revoke and re-revoke", func(t *testing.T) {
		svc, store, _ := newTestService(t, Options{})

		key, err := svc.GenerateKey(ctx, "HW1", "")
		require.NoError(t, err)

		require.NoError(t, svc.RevokeKey(ctx, key))
		rec := store.Snapshot().Issued[key]
		assert.True(t, rec.Revoked)
		assert.NotNil(t, rec.RevokedAt)

		require.NoError(t, svc.RevokeKey(ctx, key), "re-revocation is not an error")
	})
}

func TestEndToEndLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _, deriver := newTestService(t, Options{})

	// submit
	reqID, err := svc.SubmitRequest(ctx, SubmitInput{HardwareID: "ABC123", UserName: "bob"})
	require.NoError(t, err)

	view, err := svc.ListRequests(ctx)
	require.NoError(t, err)
	require.Len(t, view.Requests, 1)
	assert.Equal(t, ledger.StatusPending, view.Requests[0].Status)

	// generate
	key, err := svc.GenerateKey(ctx, "ABC123", reqID)
	require.NoError(t, err)
	assert.Equal(t, deriver.Derive("ABC123"), key)

	view, err = svc.ListRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusIssued, view.Requests[0].Status)
	require.Contains(t, view.Issued, key)
	assert.Equal(t, "ABC123", view.Issued[key].HardwareID)

	// verify
	valid, err := svc.VerifyKey(ctx, key, "ABC123")
	require.NoError(t, err)
	assert.True(t, valid)

	// revoke
	require.NoError(t, svc.RevokeKey(ctx, key))

	view, err = svc.ListRequests(ctx)
	require.NoError(t, err)
	assert.True(t, view.Issued[key].Revoked)
}
