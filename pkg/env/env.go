package env

import "os"

// Get reads an environment variable with a fallback. It covers the few knobs
// read outside the FULFILL_ config prefix, such as the platform PORT.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
