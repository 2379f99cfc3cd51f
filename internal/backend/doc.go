// Package backend defines the contract every tagging engine implements, the
// registry that builds engines from a serializable Config, and Invoke, which
// maps a job operation onto an engine call.
package backend
