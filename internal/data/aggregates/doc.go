// Package aggregates holds the shared write-path plumbing used by repositories
// and services: transaction boundaries, driver error mapping and status guards.
package aggregates
