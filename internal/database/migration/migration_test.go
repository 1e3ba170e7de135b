package migration

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const sentinel = "SELECT to_regclass('public.users') IS NOT NULL"

func TestEnsureMigrated_Skip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	core, logs := observer.New(zap.InfoLevel)
	mock.ExpectQuery(regexp.QuoteMeta(sentinel)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	require.NoError(t, EnsureMigrated(context.Background(), db, zap.New(core), "db:5432"))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1, logs.FilterField(zap.String("event", "db_migration_skip")).Len())
}

func TestEnsureMigrated_RunsSteps(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	core, logs := observer.New(zap.InfoLevel)
	mock.ExpectQuery(regexp.QuoteMeta(sentinel)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	for _, step := range steps {
		mock.ExpectExec(regexp.QuoteMeta(step.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, EnsureMigrated(context.Background(), db, zap.New(core), "db:5432"))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, len(steps), logs.FilterField(zap.String("event", "db_migration_step")).Len())
	assert.Equal(t, 1, logs.FilterField(zap.String("event", "db_migration_success")).Len())
}

func TestEnsureMigrated_StepFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(sentinel)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(steps[0].SQL)).WillReturnError(errors.New("permission denied"))

	err = EnsureMigrated(context.Background(), db, zap.NewNop(), "db:5432")
	assert.ErrorContains(t, err, steps[0].Name)
}

func TestEnsureMigrated_SentinelFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(sentinel)).WillReturnError(errors.New("timeout"))

	err = EnsureMigrated(context.Background(), db, zap.NewNop(), "db:5432")
	assert.ErrorContains(t, err, "sentinel")
}

func TestSteps_UsersTable(t *testing.T) {
	last := steps[len(steps)-1]
	assert.Equal(t, "create_table_users", last.Name)
	assert.Contains(t, last.SQL, "username      TEXT        NOT NULL UNIQUE")
	assert.Contains(t, last.SQL, "email         TEXT        NOT NULL UNIQUE")
	assert.Contains(t, sentinel, "public.users", "the newest table is the sentinel")
}
