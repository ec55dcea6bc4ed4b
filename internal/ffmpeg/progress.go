package ffmpeg

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Progress is one snapshot parsed from ffmpeg's -progress stream.
type Progress struct {
	OutTimeUS int64
	FPS       float64
	Speed     float64
	Percent   float64
	Done      bool
}

// readProgress consumes the key=value stream emitted by `-progress pipe:1`
// and invokes fn on every `progress=` terminator line. totalDuration in
// seconds drives the percent calculation; zero disables it.
func readProgress(r io.Reader, totalDuration float64, fn func(Progress)) {
	scanner := bufio.NewScanner(r)
	var cur Progress

	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// Older builds label microseconds as out_time_ms.
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				cur.OutTimeUS = v
			}
		case "fps":
			cur.FPS, _ = strconv.ParseFloat(value, 64)
		case "speed":
			cur.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64)
		case "progress":
			cur.Done = value == "end"
			if totalDuration > 0 {
				cur.Percent = float64(cur.OutTimeUS) / 1e6 / totalDuration * 100
				if cur.Percent > 100 {
					cur.Percent = 100
				}
			}
			if cur.Done {
				cur.Percent = 100
			}
			if fn != nil {
				fn(cur)
			}
		}
	}
}
