// Package transcript implements the HTTP client for the speech-to-text API.
// It uploads assembled audio files as multipart form data, retries transient
// failures with exponential backoff, and bounds concurrent requests.
package transcript
