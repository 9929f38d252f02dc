package search

// Result is a single item hit returned to the caller.
type Result struct {
	ItemID      string `json:"itemId"`
	ListID      string `json:"listId"`
	ListName    string `json:"listName"`
	Text        string `json:"text"`
	Snippet     string `json:"snippet"`
	IsCompleted bool   `json:"isCompleted"`
}

// Query describes a search request. ListIDs carries the lists the caller
// may use; UserID lets the Postgres backend derive the same scope in SQL.
type Query struct {
	Text    string
	UserID  string
	ListIDs []string
	Limit   int
	Offset  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over items.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ItemRecord is the data we index for a to-do item.
type ItemRecord struct {
	ID          string `json:"id"`
	ListID      string `json:"listId"`
	ListName    string `json:"listName"`
	Text        string `json:"text"`
	IsCompleted bool   `json:"isCompleted"`
}
