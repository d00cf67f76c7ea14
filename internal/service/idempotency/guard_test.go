package idempotency

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
	"github.com/vladislavdragonenkov/campusmart/internal/storage/memory"
)

func TestGuard_ReplaysCompletedResponse(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	hash := HashRequest([]byte("buyer-1"), []byte("/checkout/submit"))
	calls := 0
	fn := func() (Response, error) {
		calls++
		return Response{Status: http.StatusCreated, Body: []byte(`{"order_id":"o-1"}`)}, nil
	}

	first, replayed, err := guard.Execute("key-1", hash, fn)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, http.StatusCreated, first.Status)

	second, replayed, err := guard.Execute("key-1", hash, fn)
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, first, second)
	require.Equal(t, 1, calls)
}

func TestGuard_FailedResponseCanBeRetried(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	hash := HashRequest([]byte("submit"))

	resp, _, err := guard.Execute("key-2", hash, func() (Response, error) {
		return Response{Status: http.StatusBadGateway, Body: []byte(`{"error":"gateway"}`)}, nil
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.Status)

	resp, replayed, err := guard.Execute("key-2", hash, func() (Response, error) {
		return Response{Status: http.StatusCreated}, nil
	})
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, http.StatusCreated, resp.Status)
}

func TestGuard_ErrorsFromHandlerReleaseKey(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	hash := HashRequest([]byte("submit"))
	boom := errors.New("boom")

	_, _, err := guard.Execute("key-3", hash, func() (Response, error) { return Response{}, boom })
	require.ErrorIs(t, err, boom)

	_, replayed, err := guard.Execute("key-3", hash, func() (Response, error) {
		return Response{Status: http.StatusOK}, nil
	})
	require.NoError(t, err)
	require.False(t, replayed)
}

func TestGuard_Conflicts(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, 0, nil)

	_, err := repo.CreateProcessing("key-4", "hash-a", time.Time{})
	require.NoError(t, err)

	_, _, err = guard.Execute("key-4", "hash-a", func() (Response, error) {
		t.Fatal("handler must not run while key is processing")
		return Response{}, nil
	})
	require.ErrorIs(t, err, domain.ErrIdempotencyInProgress)

	_, _, err = guard.Execute("key-4", "hash-b", func() (Response, error) { return Response{}, nil })
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	_, _, err = guard.Execute("", "hash-a", func() (Response, error) { return Response{}, nil })
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
}

func TestHashRequest(t *testing.T) {
	require.Equal(t, HashRequest([]byte("a"), []byte("b")), HashRequest([]byte("a"), []byte("b")))
	require.NotEqual(t, HashRequest([]byte("ab")), HashRequest([]byte("a"), []byte("b")))
}
