package downloader

import (
	"regexp"
	"strconv"
)

// progressPattern matches the downloader's per-line progress output.
var progressPattern = regexp.MustCompile(
	`\[download\]\s+([\d.]+)%\s+of\s+~?\s*([\d.]+\w+)(?:\s+at\s+([\d.]+\w+/s|Unknown speed))?(?:\s+ETA\s+([\d:]+|Unknown))?`)

// parseProgressLine extracts one Progress sample from a stdout line.
func parseProgressLine(line string) (Progress, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Progress{}, false
	}
	return Progress{
		Percent:   percent,
		TotalSize: m[2],
		Speed:     m[3],
		ETA:       m[4],
	}, true
}
