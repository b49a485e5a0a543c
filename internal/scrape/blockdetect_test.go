package scrape

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlock(t *testing.T) {
	long := strings.Repeat("Cabinet Martin Immobilier, 12 rue Sainte-Catherine, Bordeaux. ", 40)

	tests := []struct {
		name    string
		content string
		blocked bool
		kind    BlockType
	}{
		{"cloudflare interstitial", "Just a moment...\nChecking your browser before accessing", true, BlockCloudflare},
		{"cloudflare marker in long page", long + "cf-browser-verification", true, BlockCloudflare},
		{"attention required", "Attention Required! | Cloudflare", true, BlockCloudflare},
		{"captcha", "Please complete the CAPTCHA to continue", true, BlockCaptcha},
		{"datadome", "<p>DataDome protection</p>", true, BlockCaptcha},
		{"js shell", "Veuillez activer JavaScript pour continuer", true, BlockJSShell},
		{"access denied", "Accès refusé", true, BlockDenied},
		{"403", "403 Forbidden", true, BlockDenied},
		{"captcha mention in long listing", long + " captcha", false, BlockNone},
		{"normal listing", "**Cabinet Martin** 05 56 44 12 34", false, BlockNone},
		{"empty", "", false, BlockNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocked, kind := DetectBlock(tt.content)
			assert.Equal(t, tt.blocked, blocked)
			assert.Equal(t, tt.kind, kind)
		})
	}
}
