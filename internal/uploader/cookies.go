package uploader

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// JarEntry is one cookie from a Netscape-format jar file.
type JarEntry struct {
	Domain  string
	Path    string
	Secure  bool
	Expires time.Time
	Name    string
	Value   string
}

// LoadJarFile parses a Netscape-format cookie jar. Expired cookies are
// skipped. An empty or unparseable file yields an error; validity here is a
// format check only, not a probe against the remote session.
func LoadJarFile(path string) ([]JarEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening cookie jar: %w", err)
	}
	defer f.Close()

	var entries []JarEntry
	now := time.Now()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		// #HttpOnly_ prefixed lines are real cookies, other comments are not.
		if strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "#HttpOnly_") {
			continue
		}
		line = strings.TrimPrefix(line, "#HttpOnly_")

		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			continue
		}

		expiry, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			continue
		}
		expires := time.Unix(expiry, 0)
		// Expiry 0 marks a session cookie, which is still usable.
		if expiry != 0 && expires.Before(now) {
			continue
		}

		entries = append(entries, JarEntry{
			Domain:  fields[0],
			Path:    fields[2],
			Secure:  strings.EqualFold(fields[3], "TRUE"),
			Expires: expires,
			Name:    fields[5],
			Value:   fields[6],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading cookie jar: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("cookie jar %s holds no usable cookies", path)
	}
	return entries, nil
}

// JarUsable reports whether the file parses as a cookie jar with at least
// one live cookie.
func JarUsable(path string) bool {
	entries, err := LoadJarFile(path)
	return err == nil && len(entries) > 0
}
