package models

// SearchRequest is the body of POST /api/search.
type SearchRequest struct {
	Action          string `json:"action,omitempty"`
	Query           string `json:"query" validate:"max=512"`
	StartDate       string `json:"start_date,omitempty"`
	EndDate         string `json:"end_date,omitempty"`
	Limit           int    `json:"limit" validate:"gte=0,lte=10000"`
	IncludeRetweets bool   `json:"include_retweets"`
	Cursor          string `json:"cursor,omitempty"`
}

// ValidateRequest is the body of POST /api/validate.
type ValidateRequest struct {
	Action          string   `json:"action,omitempty"`
	URLs            []string `json:"urls" validate:"required,min=1,max=1000,dive,required"`
	IncludeMetadata *bool    `json:"include_metadata,omitempty"`
}

// SearchResponse is returned by POST /api/search.
type SearchResponse struct {
	Status     string  `json:"status"`
	Tweets     []Post  `json:"tweets"`
	Count      int     `json:"count"`
	Source     string  `json:"source"`
	NextCursor *string `json:"next_cursor,omitempty"`
}

// ValidateResponse is returned by POST /api/validate.
type ValidateResponse struct {
	Status    string `json:"status"`
	Tweets    []Post `json:"tweets"`
	Count     int    `json:"count"`
	Requested int    `json:"requested"`
}

// DateRange bounds the authored-at timestamps held in the store.
type DateRange struct {
	Latest   *string `json:"latest"`
	Earliest *string `json:"earliest"`
}

// Stats summarises the DataEntity table.
type Stats struct {
	TotalTweets  int64     `json:"total_tweets"`
	UniqueLabels int64     `json:"unique_labels"`
	DateRange    DateRange `json:"date_range"`
	DatabasePath string    `json:"database_path,omitempty"`
}
