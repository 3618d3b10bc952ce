// Package metrics exposes Prometheus collectors for the council. Collectors are
// registered on an explicit Registerer; nothing touches the global registry.
package metrics
