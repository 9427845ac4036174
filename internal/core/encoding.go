package core

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// SourceEncoding names the encoding an import file was decoded from.
type SourceEncoding string

const (
	EncodingUTF8        SourceEncoding = "utf-8"
	EncodingWindows1252 SourceEncoding = "windows-1252"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText returns data as UTF-8. A leading BOM is dropped. Input that is
// not valid UTF-8 is taken to be Windows-1252, the default of spreadsheet
// exports on Brazilian Windows installs.
func DecodeText(data []byte) ([]byte, SourceEncoding) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data, EncodingUTF8
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		// Windows-1252 maps every byte; keep the input with bad sequences replaced.
		return bytes.ToValidUTF8(data, []byte("�")), EncodingUTF8
	}
	return decoded, EncodingWindows1252
}
