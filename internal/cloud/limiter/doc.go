// Package limiter enforces a cloud provider's daily request quota on the
// client side.
//
// A Limiter counts requests against a daily limit that resets at midnight
// UTC. The count survives restarts through a kvstore.Store using two keys:
//
//	{id}_count -> "17"
//	{id}_ts    -> "2026-03-01T09:12:44Z"
//
// State persisted on an earlier UTC day is discarded at load, so an
// outage spanning midnight never under-counts. Writes are deferred and
// coalesced; Close performs a final synchronous write.
//
// Usage:
//
//	lim, err := limiter.New(limiter.Config{
//	    ID:         "datahub",
//	    DailyLimit: 360,
//	    Store:      store,
//	})
//	if err != nil {
//	    return err
//	}
//	defer lim.Close()
//
//	if id, ok := lim.Acquire(); ok {
//	    // request number id may proceed
//	}
package limiter
