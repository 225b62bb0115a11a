// File: internal/browser/persona.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/pagepilot/internal/config"
)

// personaActions returns the emulation overrides for the configured locale,
// timezone and languages. Unset fields keep the browser's own values.
func personaActions(cfg config.BrowserConfig) chromedp.Tasks {
	var tasks chromedp.Tasks
	if cfg.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(cfg.Timezone))
	}
	if cfg.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(cfg.Locale))
	}
	if header := acceptLanguage(cfg.Languages); header != "" {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": header}))
	}
	return tasks
}

// acceptLanguage builds an Accept-Language value with descending quality,
// e.g. "en-US,en;q=0.9,fr;q=0.8".
func acceptLanguage(langs []string) string {
	parts := make([]string, 0, len(langs))
	for _, l := range langs {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if len(parts) == 0 {
			parts = append(parts, l)
			continue
		}
		q := 1.0 - 0.1*float64(len(parts))
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", l, q))
	}
	return strings.Join(parts, ",")
}
