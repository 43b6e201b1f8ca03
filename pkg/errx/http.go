package errx

import (
	"github.com/gofiber/fiber/v2"
)

// HTTPErrorResponse is the JSON body written for every failed request.
type HTTPErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Type    string                 `json:"type"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ToHTTPResponse converts an Error to its wire form. The wrapped cause is
// deliberately absent: internals stay in the logs.
func (e *Error) ToHTTPResponse() HTTPErrorResponse {
	return HTTPErrorResponse{
		Code:    e.Code,
		Message: e.Message,
		Type:    string(e.Type),
		Details: e.Details,
	}
}

// FiberErrorHandler maps errors onto JSON responses: *errx.Error keeps its
// registered status, *fiber.Error keeps Fiber's, anything else is a 500 with
// a generic body.
func FiberErrorHandler(c *fiber.Ctx, err error) error {
	var ex *Error
	if As(err, &ex) {
		return c.Status(ex.HTTPStatus).JSON(ex.ToHTTPResponse())
	}

	if fe, ok := err.(*fiber.Error); ok {
		return c.Status(fe.Code).JSON(HTTPErrorResponse{
			Code:    "HTTP_ERROR",
			Message: fe.Message,
			Type:    string(TypeInternal),
		})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(HTTPErrorResponse{
		Code:    "INTERNAL_ERROR",
		Message: "An unexpected error occurred",
		Type:    string(TypeInternal),
	})
}
