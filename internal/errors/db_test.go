package errors

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapDBError_Nil(t *testing.T) {
	assert.NoError(t, MapDBError(nil))
}

func TestMapDBError_ContextErrors(t *testing.T) {
	assert.True(t, IsTimeout(MapDBError(context.DeadlineExceeded)))
	assert.True(t, IsCanceled(MapDBError(context.Canceled)))
}

func TestMapDBError_NoRows(t *testing.T) {
	err := MapDBError(pgx.ErrNoRows)
	assert.True(t, IsNotFound(err))
	require.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestMapDBError_UniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:   pgerrcode.UniqueViolation,
		Detail: "Key (upload_key)=(uploads/abc.xlsx) already exists.",
	}
	err := MapDBError(pgErr)
	assert.True(t, IsConflict(err))
	assert.Equal(t, "upload_key", GetField(err))
}

func TestMapDBError_NotNullViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "filename"}
	err := MapDBError(pgErr)
	assert.True(t, IsValidation(err))
	assert.Equal(t, "filename", GetField(err))
}

func TestMapDBError_UnknownPgError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgerrcode.SerializationFailure}
	assert.True(t, IsInternal(MapDBError(pgErr)))
}

func TestMapDBError_PassThrough(t *testing.T) {
	plain := stderrors.New("not a db error")
	assert.Equal(t, plain, MapDBError(plain))
}
