// Package mail delivers the notification emails raised by the identity flows:
// one-time codes, second-factor changes, and the post-verification welcome.
//
// Flows never wait on delivery. They hand a [Message] to a [Dispatcher], which
// forwards it to a [Sender] from a background worker. A full queue drops the
// message and counts it; callers observe the counter through [Dispatcher.Dropped].
package mail
