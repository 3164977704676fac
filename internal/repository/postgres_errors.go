package repository

import (
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgreSQLのエラーコード。
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// isUniqueViolation は一意制約違反かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

// isForeignKeyViolation は外部キー制約違反かを判定する。
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqForeignKeyViolation
}

// checkRowsAffected は更新件数が0の場合にErrNotFoundを返す。
func checkRowsAffected(rowsAffected int64, err error) error {
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// isUUID はidがUUIDとして解釈できるかを判定する。
// UUID列に不正な文字列を渡すとPostgreSQLが22P02を返すため、事前に弾いて未検出扱いにする。
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
