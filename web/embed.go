// Package web holds the embedded traffic monitor page.
package web

import "embed"

// FS contains the monitor assets.
//
//go:embed *.html *.css *.js
var FS embed.FS
