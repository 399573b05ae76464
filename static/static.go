package static

import "embed"

//go:embed icon.svg serviceWorker.js
var FS embed.FS
