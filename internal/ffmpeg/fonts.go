package ffmpeg

import (
	"os"

	"golang.org/x/image/font/sfnt"
)

// cjkFallbackFamilies are tried in order when no bundled font is readable.
// All are commonly present on CJK-capable systems.
var cjkFallbackFamilies = []string{
	"Source Han Sans HW SC",
	"Noto Sans CJK SC",
	"Microsoft YaHei",
	"SimHei",
	"WenQuanYi Micro Hei",
	"sans-serif",
}

// ResolveFontFamily reads the family name out of the bundled font file.
// A missing or unreadable file falls back to the first known CJK family.
func ResolveFontFamily(fontPath string) string {
	if fontPath != "" {
		if family, err := fontFamilyName(fontPath); err == nil && family != "" {
			return family
		}
	}
	return cjkFallbackFamilies[0]
}

// FallbackFontFamilies returns the fixed CJK family preference list.
func FallbackFontFamilies() []string {
	out := make([]string, len(cjkFallbackFamilies))
	copy(out, cjkFallbackFamilies)
	return out
}

// fontFamilyName parses the font's name table for the family entry.
func fontFamilyName(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	f, err := sfnt.Parse(data)
	if err != nil {
		return "", err
	}
	var buf sfnt.Buffer
	family, err := f.Name(&buf, sfnt.NameIDFamily)
	if err != nil {
		return "", err
	}
	return family, nil
}
