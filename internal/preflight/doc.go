// Package preflight validates a target cluster and the local environment
// before a maintenance run starts.
//
// The package validates:
//   - Connectivity to the target server
//   - Server version (3.6 or newer)
//   - Target database existence
//   - Replica set membership (critical for compaction runs)
//   - State directory writability
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(client, "appdb", stateDir)
//	results := checker.RunAll(ctx)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
