package scrape

import (
	"strings"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
	BlockDenied     BlockType = "denied"
)

// shortPage is the size under which a challenge marker is taken as the whole
// page rather than a passing mention.
const shortPage = 1500

// DetectBlock checks fetched page text for signs of anti-bot protection.
// Directory listings are long; a short page carrying a challenge marker is
// the interstitial, not the listing.
func DetectBlock(content string) (bool, BlockType) {
	lower := strings.ToLower(content)
	short := len(strings.TrimSpace(content)) < shortPage

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		(short && strings.Contains(lower, "just a moment")) ||
		(short && strings.Contains(lower, "cloudflare") && strings.Contains(lower, "attention required")) {
		return true, BlockCloudflare
	}

	if short && (strings.Contains(lower, "captcha") || strings.Contains(lower, "datadome")) {
		return true, BlockCaptcha
	}

	if short && (strings.Contains(lower, "enable javascript") || strings.Contains(lower, "activer javascript")) {
		return true, BlockJSShell
	}

	if short && (strings.Contains(lower, "access denied") || strings.Contains(lower, "403 forbidden") ||
		strings.Contains(lower, "accès refusé")) {
		return true, BlockDenied
	}

	return false, BlockNone
}
