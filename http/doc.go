// Package http is the HTTP collaborator used by the package file system.
//
// A Request describes one ranged GET whose outcome is delivered to a Callback
// on a transport goroutine. The callback decides whether the request needs to
// be resent; a PrepForResend hook may rewrite the URL, range or output buffer
// of the next attempt, which is how interrupted transfers are resumed.
//
// Requests are started into a RequestList so that a subsystem can cancel
// everything it has in flight with a single blocking call.
package http //nolint:revive // intentional naming for domain clarity
