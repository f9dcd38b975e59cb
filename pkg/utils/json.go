package utils

import (
	"encoding/json"
	"io"
)

func EncodeJSON(writer io.Writer, data any) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(data)
}
