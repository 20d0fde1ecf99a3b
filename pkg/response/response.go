package response

// Response is the envelope every endpoint answers with.
type Response struct {
	Status     string      `json:"status"`      // "success" or "error"
	StatusCode int         `json:"status_code"` // HTTP status code
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	Code       string      `json:"code,omitempty"`   // machine-readable error kind
	Fields     interface{} `json:"fields,omitempty"` // per-field validation failures
}

// Success returns a standard success response wrapping the data
func Success(statusCode int, data interface{}) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// PageResponse is a success envelope carrying one page of a list.
type PageResponse struct {
	Response
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// Paginated wraps a page of results together with its paging metadata.
func Paginated(statusCode int, data interface{}, total int64, page, limit int) PageResponse {
	pages := 0
	if limit > 0 {
		pages = int((total + int64(limit) - 1) / int64(limit))
	}
	return PageResponse{
		Response:   Success(statusCode, data),
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: pages,
	}
}

// Error returns a standard error response wrapping the error message
func Error(statusCode int, err string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      err,
	}
}

// ErrorWithCode is Error plus the error kind clients branch on.
func ErrorWithCode(statusCode int, code, err string) Response {
	r := Error(statusCode, err)
	r.Code = code
	return r
}
