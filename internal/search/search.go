package search

// Result is a single matching claimable request.
type Result struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Status  string `json:"status"`
}

// Query describes an address search over unclaimed requests.
type Query struct {
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute an address search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// RequestRecord is the data indexed for a claimable request.
type RequestRecord struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Status  string `json:"status"`
}
