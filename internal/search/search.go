package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultCase  ResultType = "case"
	ResultEvent ResultType = "event"
	ResultRule  ResultType = "rule"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	CaseID  string     `json:"caseId"`
	Ticker  string     `json:"ticker"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterTicker string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// CaseRecord is the data we index for an investment case.
type CaseRecord struct {
	ID     string `json:"id"`
	Ticker string `json:"ticker"`
	Book   string `json:"book"`
	Status string `json:"status"`
}

// EventRecord is the data we index for a finalized decision event.
type EventRecord struct {
	ID        string `json:"id"`
	CaseID    string `json:"caseId"`
	Ticker    string `json:"ticker"`
	EventType string `json:"eventType"`
	Body      string `json:"body"`
}

// RuleRecord is the data we index for a ticker rule.
type RuleRecord struct {
	ID       string `json:"id"`
	CaseID   string `json:"caseId"`
	Ticker   string `json:"ticker"`
	RuleText string `json:"ruleText"`
	Status   string `json:"status"`
}
