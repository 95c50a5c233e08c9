// internal/store/sqlstore/errors.go
package sqlstore

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
)

// MySQL server error numbers for the SQLSTATE classes we care about.
var mysqlErrorNumbers = map[string][]uint16{
	pgerrcode.UniqueViolation:     {1062},       // ER_DUP_ENTRY
	pgerrcode.ForeignKeyViolation: {1451, 1452}, // ER_ROW_IS_REFERENCED_2, ER_NO_REFERENCED_ROW_2
}

// violates reports whether err is a violation of the given class on the
// named constraint. An empty constraint matches any.
func violates(err error, code, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code && (constraint == "" || pqErr.Constraint == constraint)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		for _, n := range mysqlErrorNumbers[code] {
			if myErr.Number == n {
				// MySQL names the key or constraint only in the message
				return constraint == "" || strings.Contains(myErr.Message, constraint)
			}
		}
	}
	return false
}
