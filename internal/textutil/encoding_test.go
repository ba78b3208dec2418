package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

func assertValidUTF8(t *testing.T, s string) {
	t.Helper()
	if !utf8.ValidString(s) {
		t.Errorf("result is not valid UTF-8: %q", s)
	}
}

func TestEnsureUTF8_AlreadyValid(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"ASCII", "Hello, World!", "Hello, World!"},
		{"UTF-8 Chinese", "你好世界", "你好世界"},
		{"UTF-8 Japanese", "こんにちは", "こんにちは"},
		{"UTF-8 Korean", "안녕하세요", "안녕하세요"},
		{"UTF-8 Cyrillic", "Привет мир", "Привет мир"},
		{"UTF-8 mixed", "Hello 世界! Привет!", "Hello 世界! Привет!"},
		{"UTF-8 emoji", "Hello 👋 World 🌍", "Hello 👋 World 🌍"},
		{"empty string", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EnsureUTF8(tt.input)
			if result != tt.expected {
				t.Errorf("got %q, want %q", result, tt.expected)
			}
			assertValidUTF8(t, result)
		})
	}
}

func TestEnsureUTF8_Windows1252(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"smart single quote (right)", []byte("Rand\x92s Opponent"), "Rand’s Opponent"},
		{"en dash", []byte("2020 \x96 2024"), "2020 – 2024"},
		{"em dash", []byte("Hello\x97World"), "Hello—World"},
		{"left double quote", []byte("\x93Hello\x94"), "“Hello”"},
		{"trademark", []byte("Brand\x99"), "Brand™"},
		{"bullet", []byte("\x95 Item"), "• Item"},
		{"euro sign", []byte("Price: \x80100"), "Price: €100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EnsureUTF8(string(tt.input))
			if result != tt.expected {
				t.Errorf("got %q, want %q", result, tt.expected)
			}
			assertValidUTF8(t, result)
		})
	}
}

func TestEnsureUTF8_Latin1(t *testing.T) {
	// These bytes decode identically under Windows-1252 and Latin-1, so the
	// result is stable regardless of which the detector picks.
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"c with cedilla", []byte("Gar\xe7on"), "Garçon"},
		{"u with umlaut", []byte("M\xfcnchen"), "München"},
		{"n with tilde", []byte("Espa\xf1a"), "España"},
		{"registered trademark", []byte("Laguiole.com \xae"), "Laguiole.com ®"},
		{"degree symbol", []byte("25\xb0C"), "25°C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EnsureUTF8(string(tt.input))
			if result != tt.expected {
				t.Errorf("got %q, want %q", result, tt.expected)
			}
			assertValidUTF8(t, result)
		})
	}
}

func TestEnsureUTF8_MixedContent(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		contains []string
	}{
		{
			"email subject with smart quotes",
			[]byte("Re: Can\x92t access the \x93dashboard\x94"),
			[]string{"Re:", "Can", "access the", "dashboard"},
		},
		{
			"price with currency",
			[]byte("Only \x80199.99 \x96 Limited Time"),
			[]string{"Only", "199.99", "Limited Time"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EnsureUTF8(string(tt.input))
			assertValidUTF8(t, result)
			for _, want := range tt.contains {
				if !strings.Contains(result, want) {
					t.Errorf("result %q does not contain %q", result, want)
				}
			}
		})
	}
}

func TestSanitizeUTF8(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"valid UTF-8 unchanged", "Hello, 世界!", "Hello, 世界!"},
		{"single invalid byte", "Hello\x80World", "Hello�World"},
		{"multiple invalid bytes", "Test\x80\x81\x82String", "Test���String"},
		{"truncated UTF-8 sequence", "Hello\xc3", "Hello�"},
		{"invalid continuation byte", "Test\xc3\x00End", "Test�\x00End"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeUTF8(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeUTF8(%q) = %q, want %q", tt.input, result, tt.expected)
			}
			assertValidUTF8(t, result)
		})
	}
}

func TestGetEncodingByName(t *testing.T) {
	tests := []struct {
		charset    string
		wantNil    bool
		verifyByte byte // A byte that decodes differently in this charset vs ASCII
		wantRune   rune // Expected rune when decoding verifyByte
	}{
		// Windows-1252: 0x92 = right single quote (')
		{"windows-1252", false, 0x92, '’'},
		{"CP1252", false, 0x92, '’'},
		// ISO-8859-1: 0xE9 = é
		{"ISO-8859-1", false, 0xe9, 'é'},
		{"iso-8859-1", false, 0xe9, 'é'},
		{"latin1", false, 0xe9, 'é'},
		// Multi-byte encodings - verify non-nil only
		{"Shift_JIS", false, 0, 0},
		{"shift_jis", false, 0, 0},
		{"EUC-JP", false, 0, 0},
		{"EUC-KR", false, 0, 0},
		{"GBK", false, 0, 0},
		{"GB2312", false, 0, 0},
		{"Big5", false, 0, 0},
		{"KOI8-R", false, 0, 0},
		// Unknown charset should return nil
		{"unknown-charset", true, 0, 0},
		{"", true, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.charset, func(t *testing.T) {
			enc := GetEncodingByName(tt.charset)
			if tt.wantNil {
				if enc != nil {
					t.Errorf("GetEncodingByName(%q) = %v, want nil", tt.charset, enc)
				}
				return
			}
			if enc == nil {
				t.Fatalf("GetEncodingByName(%q) = nil, want encoding", tt.charset)
			}
			if tt.verifyByte != 0 {
				decoded, err := enc.NewDecoder().Bytes([]byte{tt.verifyByte})
				if err != nil {
					t.Fatalf("decode failed: %v", err)
				}
				got := []rune(string(decoded))
				if len(got) != 1 || got[0] != tt.wantRune {
					t.Errorf("decoding 0x%02x: got %q, want %q", tt.verifyByte, string(got), string(tt.wantRune))
				}
			}
		})
	}
}

func TestEncodingIdentity(t *testing.T) {
	// Verify that GetEncodingByName returns the correct encoding type
	// by checking that decoding produces expected results for each encoding.
	tests := []struct {
		name     string
		charset  string
		input    []byte
		expected string
	}{
		{
			"Shift_JIS hiragana",
			"Shift_JIS",
			[]byte{0x82, 0xa0, 0x82, 0xa2, 0x82, 0xa4}, // あいう
			"あいう",
		},
		{
			"EUC-JP hiragana",
			"EUC-JP",
			[]byte{0xa4, 0xa2, 0xa4, 0xa4, 0xa4, 0xa6}, // あいう
			"あいう",
		},
		{
			"GBK chinese",
			"GBK",
			[]byte{0xc4, 0xe3, 0xba, 0xc3}, // 你好
			"你好",
		},
		{
			"Big5 chinese",
			"Big5",
			[]byte{0xa7, 0x41, 0xa6, 0x6e}, // 你好
			"你好",
		},
		{
			"EUC-KR korean",
			"EUC-KR",
			[]byte{0xbe, 0xc8, 0xb3, 0xe7}, // 안녕
			"안녕",
		},
		{
			"KOI8-R cyrillic",
			"KOI8-R",
			[]byte{0xf0, 0xf2, 0xe9, 0xf7, 0xe5, 0xf4}, // ПРИВЕТ
			"ПРИВЕТ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := GetEncodingByName(tt.charset)
			if enc == nil {
				t.Fatalf("GetEncodingByName(%q) returned nil", tt.charset)
			}
			decoded, err := enc.NewDecoder().Bytes(tt.input)
			if err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if string(decoded) != tt.expected {
				t.Errorf("decoded %q, want %q", string(decoded), tt.expected)
			}
		})
	}
}

func TestGetEncodingByName_ReturnsCorrectType(t *testing.T) {
	// Verify that specific charset names return encodings that decode identically
	// to the expected encoding types. Uses behavior-based comparison rather than
	// pointer equality to be robust against registry wrappers or equivalent encodings.
	tests := []struct {
		charset  string
		expected encoding.Encoding
		input    []byte
	}{
		{"Shift_JIS", japanese.ShiftJIS, []byte{0x82, 0xa0, 0x82, 0xa2}},  // あい
		{"EUC-JP", japanese.EUCJP, []byte{0xa4, 0xa2, 0xa4, 0xa4}},        // あい
		{"EUC-KR", korean.EUCKR, []byte{0xbe, 0xc8, 0xb3, 0xe7}},          // 안녕
		{"GBK", simplifiedchinese.GBK, []byte{0xc4, 0xe3, 0xba, 0xc3}},    // 你好
		{"Big5", traditionalchinese.Big5, []byte{0xa7, 0x41, 0xa6, 0x6e}}, // 你好
	}
	for _, tt := range tests {
		t.Run(tt.charset, func(t *testing.T) {
			enc := GetEncodingByName(tt.charset)
			if enc == nil {
				t.Fatalf("GetEncodingByName(%q) returned nil", tt.charset)
			}
			got, err := enc.NewDecoder().Bytes(tt.input)
			if err != nil {
				t.Fatalf("decoder error: %v", err)
			}
			want, err := tt.expected.NewDecoder().Bytes(tt.input)
			if err != nil {
				t.Fatalf("expected decoder error: %v", err)
			}
			if string(got) != string(want) {
				t.Errorf("GetEncodingByName(%q) decodes %x as %q, expected encoding decodes as %q",
					tt.charset, tt.input, got, want)
			}
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxRunes int
		expected string
	}{
		{"short ASCII", "Hello", 10, "Hello"},
		{"exact length", "Hello", 5, "Hello"},
		{"truncate ASCII", "Hello World", 8, "Hello..."},
		{"empty string", "", 5, ""},
		{"max 3", "Hello", 3, "Hel"},
		{"max 4", "Hello", 4, "H..."},
		{"UTF-8 no truncate", "你好世界", 4, "你好世界"}, // 4 runes, no truncation needed
		{"UTF-8 truncate", "你好世界！", 4, "你..."},
		{"emoji", "Hello 👋 World", 9, "Hello ..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TruncateRunes(tt.input, tt.maxRunes)
			if result != tt.expected {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.input, tt.maxRunes, result, tt.expected)
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single line", "Hello World", "Hello World"},
		{"multi line", "First\nSecond\nThird", "First"},
		{"empty string", "", ""},
		{"trailing newline", "Hello\n", "Hello"},
		{"only newline", "\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FirstLine(tt.input)
			if result != tt.expected {
				t.Errorf("FirstLine(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
