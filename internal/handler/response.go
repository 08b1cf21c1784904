// Package handler carries the HTTP surface shared by the import endpoints:
// the response envelope and the health and metrics handlers.
package handler

// Response is the envelope every import endpoint answers with. Reports and
// previews ride in Data; errors carry a Message and no Data.
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{Status: "success", Data: data}
}

func NewErrorResponse(message string) *Response {
	return &Response{Status: "error", Message: message}
}
