package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// exerciseStore runs behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		err := s.View(ctx, "t1", func(tx Tx) error {
			_, err := tx.Get(ctx, "items", "missing")
			return err
		})
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, "t1", func(tx Tx) error {
			return tx.Put(ctx, "items", "a", []byte(`{"v":1}`))
		}))
		var got []byte
		require.NoError(t, s.View(ctx, "t1", func(tx Tx) error {
			var err error
			got, err = tx.Get(ctx, "items", "a")
			return err
		}))
		require.JSONEq(t, `{"v":1}`, string(got))
	})

	t.Run("tenants are partitioned", func(t *testing.T) {
		err := s.View(ctx, "t2", func(tx Tx) error {
			_, err := tx.Get(ctx, "items", "a")
			return err
		})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("insert rejects duplicates", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, "t1", func(tx Tx) error {
			return tx.Insert(ctx, "keys", "k1", []byte(`{}`))
		}))
		err := s.Update(ctx, "t1", func(tx Tx) error {
			return tx.Insert(ctx, "keys", "k1", []byte(`{}`))
		})
		require.ErrorIs(t, err, ErrExists)
		require.ErrorIs(t, err, shared.ErrConflict)

		require.NoError(t, s.Update(ctx, "t2", func(tx Tx) error {
			return tx.Insert(ctx, "keys", "k1", []byte(`{}`))
		}))
	})

	t.Run("failed transaction leaves nothing", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.Update(ctx, "t1", func(tx Tx) error {
			if err := tx.Put(ctx, "items", "rolled", []byte(`{}`)); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		err = s.View(ctx, "t1", func(tx Tx) error {
			_, err := tx.Get(ctx, "items", "rolled")
			return err
		})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("scan by prefix in order", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, "t1", func(tx Tx) error {
			for _, id := range []string{"p1/b", "p1/a", "p2/a"} {
				if err := tx.Put(ctx, "idx", id, []byte(`{}`)); err != nil {
					return err
				}
			}
			return nil
		}))
		var ids []string
		require.NoError(t, s.View(ctx, "t1", func(tx Tx) error {
			return tx.Scan(ctx, "idx", "p1/", func(id string, _ []byte) error {
				ids = append(ids, id)
				return nil
			})
		}))
		require.Equal(t, []string{"p1/a", "p1/b"}, ids)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, "t1", func(tx Tx) error {
			return tx.Delete(ctx, "items", "a")
		}))
		err := s.View(ctx, "t1", func(tx Tx) error {
			_, err := tx.Get(ctx, "items", "a")
			return err
		})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("view is read only", func(t *testing.T) {
		err := s.View(ctx, "t1", func(tx Tx) error {
			return tx.Put(ctx, "items", "x", []byte(`{}`))
		})
		require.Error(t, err)
	})

	t.Run("concurrent increments are serialized", func(t *testing.T) {
		const workers = 20
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.Update(ctx, "t1", func(tx Tx) error {
					n := uint64(0)
					raw, err := tx.Get(ctx, "counters", "c")
					if err == nil {
						n = decodeCounter(raw)
					} else if !errors.Is(err, ErrNotFound) {
						return err
					}
					return tx.Put(ctx, "counters", "c", encodeCounter(n+1))
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		var raw []byte
		require.NoError(t, s.View(ctx, "t1", func(tx Tx) error {
			var err error
			raw, err = tx.Get(ctx, "counters", "c")
			return err
		}))
		require.Equal(t, uint64(workers), decodeCounter(raw))
	})
}

type counter struct {
	N uint64 `json:"n"`
}

func encodeCounter(n uint64) []byte {
	raw, _ := json.Marshal(counter{N: n})
	return raw
}

func decodeCounter(raw []byte) uint64 {
	var c counter
	_ = json.Unmarshal(raw, &c)
	return c.N
}
