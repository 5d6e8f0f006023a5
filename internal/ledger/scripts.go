package ledger

import (
	_ "embed"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/docindex/internal/status"
)

var (
	//go:embed set_if_not_exists.lua
	setIfNotExistsSource string

	//go:embed set_if_accepted_or_absent.lua
	setIfAcceptedOrAbsentSource string
)

var (
	// setIfNotExists creates a record and leaves an existing one untouched.
	setIfNotExists = redis.NewScript(setIfNotExistsSource)

	// setIfAcceptedOrAbsent moves a record to a terminal status unless it
	// already holds one.
	setIfAcceptedOrAbsent = redis.NewScript(setIfAcceptedOrAbsentSource)
)

// scriptFor picks the transition script for the requested status.
func scriptFor(s status.JobStatus) *redis.Script {
	if _, ok := s.(status.Accepted); ok {
		return setIfNotExists
	}
	return setIfAcceptedOrAbsent
}
