// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	"github.com/google/uuid"
)

// SystemFunctionProvider is the lixbackend.FunctionProvider backing real
// runs: google/uuid's UUIDv7 generator for ids, RFC3339Nano-stamped wall
// time for batch timestamps.
type SystemFunctionProvider struct{}

func (SystemFunctionProvider) UUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the process entropy source is broken;
		// fall back to a random v4 rather than panic mid-rewrite.
		return uuid.NewString()
	}
	return id.String()
}

func (SystemFunctionProvider) Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
