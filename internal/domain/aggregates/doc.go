// Package aggregates holds the error taxonomy shared by services, repositories
// and the HTTP layer. Every error crossing a service boundary carries a Code
// that the transport maps to a status.
package aggregates
