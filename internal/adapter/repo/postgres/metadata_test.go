package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/resume-matcher/internal/domain"
)

// rowStub implements pgx.Row.
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// poolStub implements postgres.PgxPool for tests.
type poolStub struct {
	execErr error
	row     rowStub
	lastSQL string
}

func (p *poolStub) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	p.lastSQL = sql
	return pgconn.CommandTag{}, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	p.lastSQL = sql
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func postingRow(id string, urgent, accepting bool, closesAt *time.Time) rowStub {
	return rowStub{scan: func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = "tok-" + id
		*dest[2].(*bool) = urgent
		*dest[3].(*bool) = accepting
		*dest[4].(**time.Time) = closesAt
		return nil
	}}
}

func TestResolvePosting_Open(t *testing.T) {
	t.Parallel()

	pool := &poolStub{row: postingRow("p1", true, true, nil)}
	p, err := postgres.NewMetadataRepo(pool).ResolvePosting(context.Background(), "tok-p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.True(t, p.Urgent)
}

func TestResolvePosting_NotFound(t *testing.T) {
	t.Parallel()

	pool := &poolStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
	_, err := postgres.NewMetadataRepo(pool).ResolvePosting(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolvePosting_NotAccepting(t *testing.T) {
	t.Parallel()

	pool := &poolStub{row: postingRow("p2", false, false, nil)}
	_, err := postgres.NewMetadataRepo(pool).ResolvePosting(context.Background(), "tok-p2")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestResolvePosting_DeadlinePassed(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Hour)
	pool := &poolStub{row: postingRow("p3", false, true, &past)}
	_, err := postgres.NewMetadataRepo(pool).ResolvePosting(context.Background(), "tok-p3")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestResolvePosting_FutureDeadline(t *testing.T) {
	t.Parallel()

	future := time.Now().Add(time.Hour)
	pool := &poolStub{row: postingRow("p4", false, true, &future)}
	_, err := postgres.NewMetadataRepo(pool).ResolvePosting(context.Background(), "tok-p4")
	assert.NoError(t, err)
}

func TestLinkApplication(t *testing.T) {
	t.Parallel()

	pool := &poolStub{}
	err := postgres.NewMetadataRepo(pool).LinkApplication(context.Background(), "app-1", "p1", "a@b.c", "doc-1")
	require.NoError(t, err)
	assert.Contains(t, pool.lastSQL, "INSERT INTO applications")

	pool.execErr = errors.New("conn refused")
	err = postgres.NewMetadataRepo(pool).LinkApplication(context.Background(), "app-2", "p1", "a@b.c", "doc-2")
	assert.Error(t, err)
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	pool := &poolStub{}
	require.NoError(t, postgres.Migrate(context.Background(), pool))

	pool.execErr = errors.New("permission denied")
	assert.Error(t, postgres.Migrate(context.Background(), pool))
}
