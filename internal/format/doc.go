// Package format renders conversation deliveries for chat transports.
//
// Render turns a delivery into an HTML body (markdown through goldmark, execution
// banners rewritten into labelled sections, a bold role header) and a plain body.
// Transports send the HTML body and fall back to the plain body when the rich
// message is refused.
package format
