// Package sandbox is the executor role's turn producer. It hands code to an external
// execution service; isolation and resource limits are that service's concern.
package sandbox
