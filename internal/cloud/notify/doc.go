// Package notify fans cloud client events out to any number of listeners.
//
// Producers (HTTP clients, stream sessions, limiters) call Registry.Notify,
// which never blocks on a consumer: every registered listener has its own
// unbounded FIFO queue drained by a dedicated goroutine. A slow, failing or
// panicking listener only delays itself.
//
// Events are a closed set of variants. Listeners switch on the concrete type:
//
//	reg.Register(notify.ListenerFunc(func(ev notify.Event) error {
//	    switch e := ev.(type) {
//	    case notify.AuthEvent:
//	        ...
//	    case notify.ResponseEvent:
//	        ...
//	    }
//	    return nil
//	}))
package notify
