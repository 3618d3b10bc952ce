// Package console prints council turns to a terminal.
//
// Printer implements the council sink: each delivery is a colored role label
// followed by its body, rendered as markdown with glamour unless disabled. The
// user's own text is echoed verbatim.
package console
