package text_test

import (
	"testing"

	"github.com/book-expert/docspeech/internal/tts/text"
	"github.com/stretchr/testify/assert"
)

// normalizerTestCase defines a standard test case for the pure text functions.
type normalizerTestCase struct {
	name     string
	input    string
	expected string
}

// runNormalizerTests runs table-driven tests for one text function and checks
// that applying it twice changes nothing.
func runNormalizerTests(t *testing.T, tests []normalizerTestCase, apply func(string) string) {
	t.Helper()

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			result := apply(testCase.input)
			if result != testCase.expected {
				t.Errorf("Expected %q, got %q", testCase.expected, result)
			}

			if again := apply(result); again != result {
				t.Errorf("Not idempotent: %q became %q", result, again)
			}
		})
	}
}

func TestDetectEncoding(t *testing.T) {
	t.Parallel()

	assert.Equal(t, text.EncodingUTF8, text.DetectEncoding([]byte("Produk Domestik Bruto – naik")))
	assert.Equal(t, text.EncodingWindows1252, text.DetectEncoding([]byte{'a', 0x93, 'b', 0x94}))
	assert.Equal(t, text.EncodingLatin1, text.DetectEncoding([]byte{'c', 'a', 'f', 0xe9}))
	assert.Equal(t, text.EncodingUTF8,
		text.DetectEncoding([]byte("naïve café résumé \xff")), "mostly valid UTF-8 stays UTF-8")
}

func TestToUTF8_ConvertsLegacyCodePages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "“quoted”", text.ToUTF8([]byte{0x93, 'q', 'u', 'o', 't', 'e', 'd', 0x94}))
	assert.Equal(t, "café", text.ToUTF8([]byte{'c', 'a', 'f', 0xe9}))
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []normalizerTestCase{
		{
			name:     "crlf and blank lines",
			input:    "Line one\r\n\r\n\r\n\r\nLine two\rLine three",
			expected: "Line one\n\nLine two\nLine three",
		},
		{
			name:     "spaces and tabs collapse",
			input:    "  Inflasi \t\t  naik   3 persen  ",
			expected: "Inflasi naik 3 persen",
		},
		{
			name:     "control and replacement characters",
			input:    "Data\x00 \x07ekspor\uFFFD impor\u200B",
			expected: "Data ekspor impor",
		},
		{
			name:     "malformed fragments dropped",
			input:    "Jumlah penduduk \xe2\x82 meningkat – pesat – sekali – lagi",
			expected: "Jumlah penduduk meningkat – pesat – sekali – lagi",
		},
		{
			name:     "whitespace-only lines collapse",
			input:    "Alinea satu.\n   \n \t \n\nAlinea dua.",
			expected: "Alinea satu.\n\nAlinea dua.",
		},
		{
			name:     "combining mark after removed control character",
			input:    "cafe\x00\u0301 au lait",
			expected: "caf\u00e9 au lait",
		},
		{
			name:     "combining mark after removed zero-width space",
			input:    "e\u200b\u0301",
			expected: "\u00e9",
		},
		{
			name:     "combining mark after removed replacement character",
			input:    "a\uFFFD\u0301",
			expected: "\u00e1",
		},
		{
			name:     "already clean text unchanged",
			input:    "Clean text.\n\nSecond paragraph.",
			expected: "Clean text.\n\nSecond paragraph.",
		},
	}

	runNormalizerTests(t, tests, text.Sanitize)
}

func TestOptimizeForSpeech(t *testing.T) {
	t.Parallel()

	tests := []normalizerTestCase{
		{
			name:     "symbols removed",
			input:    "Nilai ekspor ★ naik → 5 persen © 2024",
			expected: "Nilai ekspor naik 5 persen 2024",
		},
		{
			name:     "duplicated terminal punctuation",
			input:    "Benarkah?? Ya!!! Selesai...",
			expected: "Benarkah? Ya! Selesai.",
		},
		{
			name:     "excessive repeats shortened",
			input:    "Wooooow sangat baaaaaik",
			expected: "Wooow sangat baaaik",
		},
		{
			name:     "digit runs kept",
			input:    "Total 1000000 jiwa",
			expected: "Total 1000000 jiwa",
		},
		{
			name:     "empty stays empty",
			input:    "   ",
			expected: "",
		},
	}

	runNormalizerTests(t, tests, text.OptimizeForSpeech)
}

func TestBasicClean(t *testing.T) {
	t.Parallel()

	tests := []normalizerTestCase{
		{
			name:     "page markers",
			input:    "Pertumbuhan ekonomi melambat. Halaman 12 dari 40",
			expected: "Pertumbuhan ekonomi melambat.",
		},
		{
			name:     "bare page number line",
			input:    "Paragraf pertama.\n17\nParagraf kedua.",
			expected: "Paragraf pertama.\n\nParagraf kedua.",
		},
		{
			name:     "organization header line",
			input:    "BADAN PUSAT STATISTIK PROVINSI JAWA BARAT\nIndeks harga naik.",
			expected: "Indeks harga naik.",
		},
		{
			name:     "table-like digit run",
			input:    "Tabel berikut 12,5 13,1 14,0 15,2 16,8 menunjukkan tren.",
			expected: "Tabel berikut menunjukkan tren.",
		},
		{
			name:     "identifiers and contacts",
			input:    "ISBN: 978-602-438-123-4 Hubungi bpshq@bps.go.id atau https://www.bps.go.id sekarang.",
			expected: "Hubungi atau sekarang.",
		},
		{
			name:     "repeated words",
			input:    "Data data yang yang dikumpulkan",
			expected: "Data yang dikumpulkan",
		},
		{
			name:     "ellipsis leaders",
			input:    "Pendahuluan........ Bab satu…",
			expected: "Pendahuluan... Bab satu...",
		},
	}

	runNormalizerTests(t, tests, text.BasicClean)
}
