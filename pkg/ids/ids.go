// Package ids generates the opaque identifiers used throughout the
// simulation core: SystemOrderId and FillId are 128-bit UUIDs; RunId is a
// human-readable string unique per orchestrator invocation.
package ids

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewSystemOrderID generates a fresh order identifier at submission time.
func NewSystemOrderID() uuid.UUID {
	return uuid.New()
}

// NewFillID generates a fresh fill identifier at fill time.
func NewFillID() uuid.UUID {
	return uuid.New()
}

// NewRunID combines the current UTC timestamp with the given strategy
// names, matching the orchestrator's run_id convention: a timestamp
// prefix followed by the strategy names joined with underscores.
func NewRunID(now time.Time, strategyNames []string) string {
	stamp := now.UTC().Format("2006-01-02_15-04-05")
	if len(strategyNames) == 0 {
		return stamp
	}
	return fmt.Sprintf("%s_%s", stamp, strings.Join(strategyNames, "_"))
}
