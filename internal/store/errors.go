package store

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	mssql "github.com/microsoft/go-mssqldb"
)

var (
	// ErrUsernameTaken 表示用户名已被占用（sys_users.username 唯一约束）。
	ErrUsernameTaken = errors.New("用户名已存在")

	// ErrFileAlreadyProcessed 表示同名同内容的文件已经入库过（etl_metadata.file_name 唯一约束）。
	ErrFileAlreadyProcessed = errors.New("文件已处理过")
)

// isUniqueViolation 判断是否为唯一约束冲突，覆盖四种后端的错误形态。
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// 1062: ER_DUP_ENTRY
		return myErr.Number == 1062
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}

	var sqlErr mssql.Error
	if errors.As(err, &sqlErr) {
		// 2627: unique constraint, 2601: unique index
		return sqlErr.Number == 2627 || sqlErr.Number == 2601
	}

	// modernc.org/sqlite 没有稳定的错误类型导出，按消息判断。
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
