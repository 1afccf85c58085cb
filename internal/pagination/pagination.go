// Package pagination slices large upstream result sets into fixed-size
// pages that can each be fetched independently.
package pagination

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

const (
	DefaultPageSize          = 10000
	DefaultDeepPageThreshold = 5

	// PageParam is the 1-based page query parameter.
	PageParam = "offset"
	// CredentialParam is the query parameter that may carry an API key.
	CredentialParam = "api_key"
)

// Options configures a Paginate call.
type Options struct {
	PageSize          int
	DeepPageThreshold int

	// Path and Query describe the request, and are used to build
	// navigation URLs. Path may be absolute or relative.
	Path  string
	Query url.Values
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.DeepPageThreshold <= 0 {
		o.DeepPageThreshold = DefaultDeepPageThreshold
	}
	return o
}

// Info is the pagination block of a windowed response.
type Info struct {
	CurrentPage      int  `json:"current_page"`
	TotalPages       int  `json:"total_pages"`
	PageSize         int  `json:"page_size"`
	TotalRecords     int  `json:"total_records"`
	ReturnedRecords  int  `json:"returned_records"`
	HasPreviousPage  bool `json:"has_previous_page"`
	HasNextPage      bool `json:"has_next_page"`
	PreviousPage     *int `json:"previous_page"`
	NextPage         *int `json:"next_page"`
	RemainingRecords int  `json:"remaining_records"`
}

// Navigation holds ready-to-use URLs for neighbouring pages.
type Navigation struct {
	First    string  `json:"first"`
	Previous *string `json:"previous"`
	Next     *string `json:"next"`
	Last     string  `json:"last"`
}

// Result is one page of a result set. Pagination and Navigation are nil
// when the whole set fits in a single page.
type Result struct {
	Data       []json.RawMessage `json:"data"`
	IsComplete bool              `json:"is_complete"`
	Pagination *Info             `json:"pagination,omitempty"`
	Navigation *Navigation       `json:"navigation,omitempty"`
	Warning    string            `json:"warning,omitempty"`
}

// RangeError reports a page index outside 1..TotalPages.
type RangeError struct {
	Page       int
	TotalPages int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("page %d is out of range, valid pages are 1-%d", e.Page, e.TotalPages)
}

// ParsePage reads the page query value. An empty value means page 1.
func ParsePage(raw string) (int, error) {
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, fmt.Errorf("invalid %s parameter: must be a positive integer", PageParam)
	}
	return page, nil
}

// TotalPages is ceil(total/size).
func TotalPages(total, size int) int {
	if total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// Paginate returns page of records. Sets no larger than the page size are
// returned whole with IsComplete set, regardless of page.
func Paginate(records []json.RawMessage, page int, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	total := len(records)
	if records == nil {
		records = []json.RawMessage{}
	}

	if total <= opts.PageSize {
		return &Result{Data: records, IsComplete: true}, nil
	}

	totalPages := TotalPages(total, opts.PageSize)
	if page < 1 || page > totalPages {
		return nil, &RangeError{Page: page, TotalPages: totalPages}
	}

	start := (page - 1) * opts.PageSize
	end := min(start+opts.PageSize, total)

	info := &Info{
		CurrentPage:      page,
		TotalPages:       totalPages,
		PageSize:         opts.PageSize,
		TotalRecords:     total,
		ReturnedRecords:  end - start,
		HasPreviousPage:  page > 1,
		HasNextPage:      page < totalPages,
		RemainingRecords: total - end,
	}
	if info.HasPreviousPage {
		prev := page - 1
		info.PreviousPage = &prev
	}
	if info.HasNextPage {
		next := page + 1
		info.NextPage = &next
	}

	result := &Result{
		Data:       records[start:end],
		Pagination: info,
		Navigation: navigation(opts, info),
	}
	if page > opts.DeepPageThreshold {
		result.Warning = fmt.Sprintf(
			"page %d is beyond the first %d pages; deep pagination re-fetches the full upstream result set on every request, consider narrowing the query",
			page, opts.DeepPageThreshold)
	}
	return result, nil
}

func navigation(opts Options, info *Info) *Navigation {
	nav := &Navigation{
		First: PageURL(opts.Path, opts.Query, 1),
		Last:  PageURL(opts.Path, opts.Query, info.TotalPages),
	}
	if info.PreviousPage != nil {
		u := PageURL(opts.Path, opts.Query, *info.PreviousPage)
		nav.Previous = &u
	}
	if info.NextPage != nil {
		u := PageURL(opts.Path, opts.Query, *info.NextPage)
		nav.Next = &u
	}
	return nav
}

// PageURL builds the URL for page, keeping every other query parameter.
// path is the decoded request path and is escaped here.
// The credential parameter is stripped and re-attached only when the
// caller sent it in the query string, so keys supplied by header never
// end up in a URL.
func PageURL(path string, query url.Values, page int) string {
	q := make(url.Values, len(query)+1)
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}

	credential := q.Get(CredentialParam)
	q.Del(CredentialParam)
	q.Set(PageParam, strconv.Itoa(page))
	if credential != "" {
		q.Set(CredentialParam, credential)
	}
	u := url.URL{Path: path, RawQuery: q.Encode()}
	return u.String()
}
