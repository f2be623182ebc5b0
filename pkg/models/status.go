package models

// ArticleStatus is the lifecycle state of a stored article
type ArticleStatus string

const (
	ArticleStatusUnset   ArticleStatus = ""        // Zero value = unset/unknown
	ArticleStatusNew     ArticleStatus = "NEW"     // Seen on a feed, body not fetched yet
	ArticleStatusFetched ArticleStatus = "FETCHED" // Page fetched, not parsed
	ArticleStatusParsed  ArticleStatus = "PARSED"  // Body extracted and stored
	ArticleStatusError   ArticleStatus = "ERROR"   // Fetch or extraction failed permanently
)

// String implements fmt.Stringer for logging
func (s ArticleStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s ArticleStatus) IsValid() bool {
	switch s {
	case ArticleStatusNew, ArticleStatusFetched, ArticleStatusParsed, ArticleStatusError:
		return true
	}
	return false
}

// ParseArticleStatus maps a config string onto a status, reporting whether it is known
func ParseArticleStatus(s string) (ArticleStatus, bool) {
	status := ArticleStatus(s)
	return status, status.IsValid()
}
