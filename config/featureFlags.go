package config

import (
	"os"
	"strconv"
	"strings"
)

// SealAsyncDisabled turns off the Pub/Sub intake path so every seal request
// runs synchronously inside the HTTP request.
//
// Set via env:
// - SEAL_ASYNC_DISABLED=true
func SealAsyncDisabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SEAL_ASYNC_DISABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SealUploadMaxRetries bounds archive upload attempts per seal call.
// The bundle is hashed and signed once; only the upload is retried.
//
// Set via env:
// - SEAL_UPLOAD_MAX_RETRIES=3
func SealUploadMaxRetries() int {
	raw := strings.TrimSpace(os.Getenv("SEAL_UPLOAD_MAX_RETRIES"))
	if raw == "" {
		return 3
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 3
	}
	return n
}
