package models

// DataResponse is the body of GET /data.
type DataResponse struct {
	Success bool     `json:"success"`
	Data    []Record `json:"data"`
	Count   int      `json:"count,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ScrapeRequest is the body of POST /scrape.
type ScrapeRequest struct {
	URL         string      `json:"url"`
	Category    string      `json:"category"`
	ContentType ContentType `json:"contentType"`
}

// ScrapeResponse is the body returned by POST /scrape.
type ScrapeResponse struct {
	Success bool   `json:"success"`
	Count   int    `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DeleteRequest is the body of POST /delete.
type DeleteRequest struct {
	Items []Record `json:"items"`
}

// DeleteResponse is the body returned by POST /delete.
type DeleteResponse struct {
	Success bool   `json:"success"`
	Deleted int    `json:"deleted,omitempty"`
	Error   string `json:"error,omitempty"`
}
