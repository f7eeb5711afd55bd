package duckdb

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte("\xef\xbb\xbf")

func utf8Reader(body io.Reader) (io.Reader, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if rest, ok := bytes.CutPrefix(data, utf8BOM); ok {
		return bytes.NewReader(rest), nil
	}
	if utf8.Valid(data) {
		return bytes.NewReader(data), nil
	}
	return transform.NewReader(bytes.NewReader(data), charmap.Windows1252.NewDecoder()), nil
}
