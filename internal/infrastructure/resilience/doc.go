/*
Package resilience provides the circuit breaker that paces the kitstat soak
workload.

A soak round that fails (shared memory exhausted, a port closed under it)
is likely to fail again right away. The breaker turns a run of failures into
a pause instead of a hot loop of create/fail/delete.

# Usage

	breaker := resilience.New("soak-0", resilience.Settings{
		FailureThreshold: 3,
		Cooldown:         2 * time.Second,
	})

	err := breaker.Do(func() error {
		return runRound(ctx)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// back off
	}

# States

	Closed --[threshold failures]-> Open --[cooldown]-> Half-Open --[success]-> Closed
	                                                        |
	                                                    [failure]
	                                                        v
	                                                      Open
*/
package resilience
