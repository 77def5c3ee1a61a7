package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// maxRequestBody caps incoming request bodies (1 MiB). User text is
// bounded well below this; anything larger is abuse.
const maxRequestBody = 1 << 20

// ParseJSON decodes the request body into dest with a size cap.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
