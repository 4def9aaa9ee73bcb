package db

import (
	"strings"

	pkgerrors "github.com/angelmondragon/cim-backend/pkg/errors"
)

const (
	sqlStateCheckViolation = "23514"
	sqlStateFKViolation    = "23503"
)

// IsCheckViolation reports whether err is a CHECK constraint failure, e.g. a
// stock column guarded by CHECK (available_weight >= 0).
func IsCheckViolation(err error, constraintName string) bool {
	return matchesViolation(err, sqlStateCheckViolation, "check constraint", constraintName)
}

// IsForeignKeyViolation reports whether err is a foreign key failure.
func IsForeignKeyViolation(err error, constraintName string) bool {
	return matchesViolation(err, sqlStateFKViolation, "foreign key constraint", constraintName)
}

func matchesViolation(err error, state, fallbackText, constraintName string) bool {
	if err == nil {
		return false
	}
	if code := pkgerrors.SQLState(err); code != "" {
		if code != state {
			return false
		}
		return constraintName == "" || pkgerrors.Constraint(err) == constraintName
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, fallbackText) {
		return false
	}
	return constraintName == "" || strings.Contains(msg, strings.ToLower(constraintName))
}
