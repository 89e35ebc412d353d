package templates

import "embed"

// EmailFS holds the HTML email templates. Each message template defines
// "heading", "body" and "footer" blocks rendered inside layout.html.
//
//go:embed email/*.html
var EmailFS embed.FS
