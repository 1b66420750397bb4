// Package fetch probes and downloads remote videos through yt-dlp
// (via github.com/lrstanley/go-ytdlp). Locators are validated before any
// network activity and extraction failures are returned as *ExtractionError
// with the extractor's message intact.
package fetch
