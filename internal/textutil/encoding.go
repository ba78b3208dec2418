// Package textutil cleans up text on its way from mail sources into the
// store: charset recovery for bodies that arrive as raw bytes, HTML
// stripping, and rune-safe truncation for previews.
package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// EnsureUTF8 returns s unchanged when it is already valid UTF-8. Anything
// else gets charset detection over the raw bytes. The Graph and Gmail APIs
// deliver UTF-8 by contract, so in practice this fires on archive payloads
// carrying legacy single-byte charsets.
func EnsureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	data := []byte(s)

	if enc := detectEncoding(data); enc != nil {
		if out, ok := decodeValid(enc, data); ok {
			return out
		}
	}

	// Windows-1252 decodes every byte (the few undefined slots become
	// U+FFFD), so it doubles as the catch-all for Western text the detector
	// misses. It agrees with Latin-1 and Latin-9 on all printable bytes,
	// and anything multi-byte had its chance during detection.
	if out, ok := decodeValid(charmap.Windows1252, data); ok {
		return out
	}

	return SanitizeUTF8(s)
}

// detectEncoding maps the detector's best guess to a decoder, or nil when
// the guess is too shaky to trust.
func detectEncoding(data []byte) encoding.Encoding {
	// Short samples give the detector little to work with; accept lower
	// confidence for them.
	minConfidence := 30
	if len(data) > 50 {
		minConfidence = 50
	}

	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result.Confidence < minConfidence {
		return nil
	}
	return GetEncodingByName(result.Charset)
}

func decodeValid(enc encoding.Encoding, data []byte) (string, bool) {
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}

// SanitizeUTF8 replaces each invalid byte with U+FFFD. Last resort when no
// charset produced a clean decode.
func SanitizeUTF8(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune('�')
			i++
		} else {
			sb.WriteRune(r)
			i += size
		}
	}
	return sb.String()
}

// GetEncodingByName maps an IANA charset name, as reported by detection or
// source metadata, to a decoder. Unknown names return nil.
func GetEncodingByName(name string) encoding.Encoding {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "windows-1252", "cp1252":
		return charmap.Windows1252
	case "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1
	case "iso-8859-15", "latin9":
		return charmap.ISO8859_15
	case "iso-8859-2", "latin2":
		return charmap.ISO8859_2
	case "shift_jis", "shift-jis", "sjis":
		return japanese.ShiftJIS
	case "euc-jp", "eucjp":
		return japanese.EUCJP
	case "iso-2022-jp":
		return japanese.ISO2022JP
	case "euc-kr", "euckr":
		return korean.EUCKR
	case "gb2312", "gbk":
		return simplifiedchinese.GBK
	case "gb18030":
		return simplifiedchinese.GB18030
	case "big5", "big-5":
		return traditionalchinese.Big5
	case "koi8-r":
		return charmap.KOI8R
	case "koi8-u":
		return charmap.KOI8U
	}
	return nil
}

// TruncateRunes shortens s to at most maxRunes runes, marking the cut with
// "...". Cuts land on rune boundaries, never inside a character.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// FirstLine returns the first line of s, skipping leading newlines. Used to
// keep multi-line upstream error text out of single-line log records.
func FirstLine(s string) string {
	s = strings.TrimLeft(s, "\r\n")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		return s[:idx]
	}
	return s
}
