package domain

// Article is the system-of-record document this service indexes and returns.
// The scrapping pipeline owns it; this service only reads it.
type Article struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Text        string   `json:"text"`
	Complexity  *string  `json:"complexity"`
	ReadingTime int      `json:"reading_time"`
	Tags        []string `json:"tags"`
}

// ArticleEvent is the change-feed payload published when an article row is
// created. Extra fields are ignored.
type ArticleEvent struct {
	ID int64 `json:"id"`
}

type SearchResult struct {
	Article  Article `json:"article"`
	Distance float32 `json:"distance"`
}
