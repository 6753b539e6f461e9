// Package limits enforces per-user request quotas and rate limits.
//
// # Quotas
//
// Every user has a request quota and a usage counter. QuotaGate.Charge is
// called exactly once per accepted generation request, before the upstream
// call is made, and increments the counter whether or not the generation
// later succeeds. When enforcement is enabled a user whose counter has
// reached the quota is refused with a *QuotaExceededError. A quota of 0
// means unlimited.
//
// # Resets
//
// ResetScheduler zeroes all usage counters on a cron schedule:
//
//	quota:
//	  reset_schedule: "0 0 1 * *"   # first day of every month
//
// # Rate limiting
//
// KeyedLimiter hands out one golang.org/x/time/rate token bucket per key
// (client IP, connection id) and forgets keys that stay idle.
package limits
