package models

import "time"

// ItemRef is a discovered item together with the metadata discovery could see
type ItemRef struct {
	Key        string `json:"key"` // Normalised canonical URL
	URL        string `json:"url"`
	Title      string `json:"title"`
	Info       string `json:"info,omitempty"` // Course number / department line from the result card
	Subject    string `json:"subject"`
	SubjectURL string `json:"subject_url"` // Seed locator that produced the item
}

// Page is the result of fetching a single URL
type Page struct {
	URL        string    `json:"url"`
	FinalURL   string    `json:"final_url"`
	StatusCode int       `json:"status_code"`
	HTML       string    `json:"-"`
	FetchedAt  time.Time `json:"fetched_at"`
	Via        string    `json:"via"` // "browser" or "static"
}

// Resource is a linked course material
type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Kind  string `json:"kind,omitempty"` // File extension or section name
}

// ExtractedContent is the document produced for an item
type ExtractedContent struct {
	Key          string     `json:"item_key"`
	URL          string     `json:"url"`
	Title        string     `json:"course_name"`
	CourseNumber string     `json:"course_number,omitempty"`
	Term         string     `json:"term,omitempty"`
	Level        string     `json:"level,omitempty"`
	Description  string     `json:"description,omitempty"`
	Instructors  []string   `json:"instructors,omitempty"`
	Topics       []string   `json:"topics,omitempty"`
	Resources    []Resource `json:"resources,omitempty"`
	Markdown     string     `json:"content_markdown,omitempty"`
	Subject      string     `json:"subject"`
	SourceInfo   string     `json:"course_info,omitempty"`
	FetchedVia   string     `json:"fetched_via"`
	ExtractedAt  time.Time  `json:"extracted_at"`
}
