package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

func TestRunRepositories(t *testing.T) {
	repos := map[string]func(t *testing.T) port.RunRepository{
		"memory": func(*testing.T) port.RunRepository { return NewMemoryRunRepository() },
		"sqlite": func(t *testing.T) port.RunRepository {
			r, err := NewSQLiteRunRepository(filepath.Join(t.TempDir(), "runs.db"))
			require.NoError(t, err)
			t.Cleanup(func() { r.Close() })
			return r
		},
	}

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records := []entity.RunRecord{
		{ID: "1", Slide: "a", Process: "tissue", State: entity.RunAttached, StartedAt: started, FinishedAt: started.Add(time.Second)},
		{ID: "2", Slide: "b", Process: "tumour", State: entity.RunFailed, Backend: entity.BackendOpenVINO, Format: entity.FormatONNX, Level: 2, Error: "boom", StartedAt: started, FinishedAt: started},
		{ID: "3", Slide: "a", Process: "tumour", State: entity.RunAttached, Reused: true, StartedAt: started, FinishedAt: started},
	}

	for name, open := range repos {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open(t)
			for _, rec := range records {
				require.NoError(t, repo.Append(ctx, rec))
			}

			all, err := repo.List(ctx, "")
			require.NoError(t, err)
			require.Len(t, all, 3)

			a, err := repo.List(ctx, "a")
			require.NoError(t, err)
			require.Len(t, a, 2)
			require.Equal(t, "1", a[0].ID)
			require.True(t, a[1].Reused)
			require.True(t, a[0].FinishedAt.Equal(started.Add(time.Second)))

			b, err := repo.List(ctx, "b")
			require.NoError(t, err)
			require.Len(t, b, 1)
			require.Equal(t, entity.BackendOpenVINO, b[0].Backend)
			require.Equal(t, entity.FormatONNX, b[0].Format)
			require.Equal(t, 2, b[0].Level)
			require.Equal(t, "boom", b[0].Error)

			none, err := repo.List(ctx, "missing")
			require.NoError(t, err)
			require.Empty(t, none)
		})
	}
}

func TestSQLiteRunRepository_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	r, err := NewSQLiteRunRepository(path)
	require.NoError(t, err)
	require.NoError(t, r.Append(ctx, entity.RunRecord{ID: "x", Slide: "s", Process: "p", State: entity.RunAttached}))
	require.NoError(t, r.Close())

	r, err = NewSQLiteRunRepository(path)
	require.NoError(t, err)
	defer r.Close()
	runs, err := r.List(ctx, "s")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, entity.RunAttached, runs[0].State)
}
