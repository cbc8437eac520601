package repository

import (
	"errors"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrActiveSessionExists = errors.New("user already has an open session")
	ErrEmailTaken          = errors.New("email already registered")
)

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
