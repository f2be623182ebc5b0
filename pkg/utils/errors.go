package utils

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
)

// Sentinel errors, matched with errors.Is by CategorizeError
var (
	ErrInvalidURL         = errors.New("invalid URL")                      // Input could not be parsed or lacks scheme/host
	ErrFetchFailure       = errors.New("fetch failure")                    // Wraps transport/HTTP errors for a page
	ErrPersistenceFailure = errors.New("persistence failure")              // Batch rolled back
	ErrNotFound           = errors.New("not found")                        // HTTP 404 or missing record
	ErrRetryFailed        = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError    = errors.New("client HTTP error (4xx)")          // Wraps original error/status
	ErrServerHTTPError    = errors.New("server HTTP error (5xx)")          // Wraps original error/status
	ErrOtherHTTPError     = errors.New("other HTTP error (non-2xx)")       // Wraps original error/status
	ErrParsing            = errors.New("parsing error")
	ErrDatabase           = errors.New("database error") // Wraps badger errors
	ErrRequestCreation    = errors.New("failed to create HTTP request")
	ErrResponseBodyRead   = errors.New("failed to read response body")
	ErrMarkdownConversion = errors.New("failed to convert HTML to markdown")
	ErrConfigValidation   = errors.New("configuration validation error")
)

// categories maps sentinels to their category, checked in order. Refined
// categories for persistence, retry, client HTTP and parsing errors are
// resolved before this table is consulted.
var categories = []struct {
	err      error
	category string
}{
	{ErrNotFound, "HTTP_404"},
	{ErrServerHTTPError, "HTTP_5xx"},
	{ErrOtherHTTPError, "HTTP_OtherStatus"},
	{ErrMarkdownConversion, "Content_Markdown"},
	{ErrDatabase, "Database_Other"},
	{ErrRequestCreation, "Internal_RequestCreation"},
	{ErrResponseBodyRead, "Network_BodyRead"},
	{ErrConfigValidation, "Config_Validation"},
	{context.Canceled, "System_ContextCanceled"},
	{context.DeadlineExceeded, "System_ContextDeadlineExceeded"},
}

var statusCodePattern = regexp.MustCompile(`status (\d{3})`)

// CategorizeError maps an error to a short category string. The category is the
// label of fetch failure metrics and the note stored on articles that can no
// longer be fetched, e.g. "HTTP_404".
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrInvalidURL):
		return "Input_InvalidURL"
	case errors.Is(err, ErrPersistenceFailure):
		if errors.Is(err, context.Canceled) {
			return "Persistence_Canceled"
		}
		return "Persistence_Batch"
	case errors.Is(err, ErrRetryFailed):
		return "RetryFailed_" + retryCause(err)
	case errors.Is(err, ErrClientHTTPError) && !errors.Is(err, ErrNotFound):
		if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
			return "HTTP_" + m[1]
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrParsing):
		return "Content_Parsing" + parsingSubject(err.Error())
	}

	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c.category
		}
	}
	if cause := networkCause(err); cause != "Unknown" {
		return "Network_" + cause
	}
	return "Unknown"
}

// retryCause names what the last attempt of an exhausted retry loop failed on
func retryCause(err error) string {
	switch {
	case errors.Is(err, ErrServerHTTPError):
		return "HTTPServer"
	case errors.Is(err, ErrClientHTTPError):
		return "HTTPClient"
	case err == ErrRetryFailed:
		return "Unknown"
	}
	if cause := networkCause(err); cause != "Unknown" {
		return cause
	}
	return "NetworkOther"
}

func parsingSubject(msg string) string {
	for _, subject := range []string{"URL", "HTML", "JSON"} {
		if strings.Contains(msg, subject) {
			return subject
		}
	}
	return "Other"
}

// networkCause classifies transport errors by type, then by message
func networkCause(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Timeout"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "Timeout"
	case strings.Contains(msg, "connection refused"):
		return "ConnectionRefused"
	case strings.Contains(msg, "no such host"):
		return "DNSLookup"
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"):
		return "TLS"
	case strings.Contains(msg, "reset by peer"):
		return "ConnectionReset"
	}
	return "Unknown"
}
