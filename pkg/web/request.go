package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Decode reads the body of an HTTP request and decodes the JSON into the
// provided value. An empty body is not an error when allowEmpty is set.
func Decode(r *http.Request, val any, allowEmpty bool) error {
	if err := json.NewDecoder(r.Body).Decode(val); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("request: unable to decode payload: %w", err)
	}

	return nil
}
