/*
Package resilience provides the circuit breaker used by the asset fetcher.

# Overview

A Breaker moves between Closed, Open and Half-Open. While open, calls fail
fast with ErrCircuitOpen, so an unreachable sub-application origin does not
stall every mount that references it. A Group keeps one breaker per origin.

# Usage

	group := resilience.NewGroup(resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	err := group.Get("cdn.example.com").Do(func() error {
		return fetch()
	})
*/
package resilience
