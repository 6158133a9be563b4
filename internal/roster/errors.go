package roster

import "errors"

var (
	errEmptyGroup     = errors.New("roster: group name must be non-empty")
	errDuplicateGroup = errors.New("roster: duplicate group name")
)
