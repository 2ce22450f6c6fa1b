package workflow

import (
	"errors"
	"fmt"

	"github.com/redis-performance/grpc-cache-loadtest/internal/check"
	"github.com/redis-performance/grpc-cache-loadtest/internal/keyspace"
	"github.com/redis-performance/grpc-cache-loadtest/internal/target"
	"google.golang.org/grpc/codes"
)

// Check names, in the order they are evaluated.
const (
	CheckSetStatus    = "set status is OK"
	CheckGetStatus    = "get status is OK"
	CheckValueFound   = "value was found"
	CheckValueMatches = "value matches"
	CheckDeleteStatus = "delete status is OK"
)

// CheckNames lists every check an iteration can record.
var CheckNames = []string{CheckSetStatus, CheckGetStatus, CheckValueFound, CheckValueMatches, CheckDeleteStatus}

func statusIs(code codes.Code) error {
	if code != codes.OK {
		return fmt.Errorf("status %s", code)
	}
	return nil
}

var setChecks = []check.Check[target.Response]{
	{Name: CheckSetStatus, Assert: func(r *target.Response) error { return statusIs(r.Status) }},
}

var deleteChecks = []check.Check[target.Response]{
	{Name: CheckDeleteStatus, Assert: func(r *target.Response) error { return statusIs(r.Status) }},
}

func getChecks(key string) []check.Check[target.GetResponse] {
	return []check.Check[target.GetResponse]{
		{Name: CheckGetStatus, Assert: func(r *target.GetResponse) error { return statusIs(r.Status) }},
		{Name: CheckValueFound, Assert: func(r *target.GetResponse) error {
			if !r.Found {
				return errors.New("found is false")
			}
			return nil
		}},
		{Name: CheckValueMatches, Requires: CheckValueFound, Assert: func(r *target.GetResponse) error {
			if r.Value == "" {
				return errors.New("value is empty")
			}
			got, err := keyspace.Decode(r.Value)
			if err != nil {
				return err
			}
			if got != key {
				return fmt.Errorf("value %q does not match key %q", got, key)
			}
			return nil
		}},
	}
}
