// Package rate provides the Redis fixed-window counter and the failed-login
// limiter built on it.
//
// Each window is an INCR followed by an EXPIRE on the first hit. Failed logins
// are counted under "idl:<email>" and, when IP throttling is on, under
// "idli:<ip>".
//
// A nil *Limiter allows everything.
package rate
