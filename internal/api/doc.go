// Package api exposes the wallet card actions over REST: session login and
// logout, Safe creation and status, swap initiation, balances, and the
// queued task views.
package api
