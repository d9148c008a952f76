package rest

import (
	"github.com/fasthttp/router"
)

type Route interface {
	Config() RouteConfig
	Handler(ctx *Ctx) APIError
}

type Router = router.Router

type RouteConfig struct {
	URI        string
	Method     RouteMethod
	Children   []Route
	Middleware []Middleware
}

type RouteMethod string

const (
	GET     RouteMethod = "GET"
	POST    RouteMethod = "POST"
	PUT     RouteMethod = "PUT"
	PATCH   RouteMethod = "PATCH"
	DELETE  RouteMethod = "DELETE"
	OPTIONS RouteMethod = "OPTIONS"
)

type Middleware = func(ctx *Ctx) APIError

type APIErrorResponse struct {
	StatusCode HttpStatusCode         `json:"status_code"`
	Status     string                 `json:"status"`
	Error      string                 `json:"error"`
	ErrorCode  int                    `json:"error_code"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

type HttpStatusCode int

const (
	// 2xx Successful
	OK        HttpStatusCode = 200
	Created   HttpStatusCode = 201
	Accepted  HttpStatusCode = 202
	NoContent HttpStatusCode = 204

	// 3xx Redirections
	MovedPermanently  HttpStatusCode = 301
	Found             HttpStatusCode = 302
	SeeOther          HttpStatusCode = 303
	NotModified       HttpStatusCode = 304
	TemporaryRedirect HttpStatusCode = 307
	PermanentRedirect HttpStatusCode = 308

	// 4xx Client Errors
	BadRequest           HttpStatusCode = 400
	Unauthorized         HttpStatusCode = 401
	Forbidden            HttpStatusCode = 403
	NotFound             HttpStatusCode = 404
	MethodNotAllowed     HttpStatusCode = 405
	NotAcceptable        HttpStatusCode = 406
	RequestTimeout       HttpStatusCode = 408
	Conflict             HttpStatusCode = 409
	Gone                 HttpStatusCode = 410
	PayloadTooLarge      HttpStatusCode = 413
	UnsupportedMediaType HttpStatusCode = 415
	UnprocessableEntity  HttpStatusCode = 422
	TooManyRequests      HttpStatusCode = 429

	// 5xx Server Errors
	InternalServerError HttpStatusCode = 500
	NotImplemented      HttpStatusCode = 501
	BadGateway          HttpStatusCode = 502
	ServiceUnavailable  HttpStatusCode = 503
	GatewayTimeout      HttpStatusCode = 504
)

// String: return the http status code in text form
func (c HttpStatusCode) String() string {
	return codeTextMap[c]
}

var codeTextMap = map[HttpStatusCode]string{
	OK:                   "OK",
	Created:              "Created",
	Accepted:             "Accepted",
	NoContent:            "No Content",
	MovedPermanently:     "Moved Permanently",
	Found:                "Found",
	SeeOther:             "See Other",
	NotModified:          "Not Modified",
	TemporaryRedirect:    "Temporary Redirect",
	PermanentRedirect:    "Permanent Redirect",
	BadRequest:           "Bad Request",
	Unauthorized:         "Unauthorized",
	Forbidden:            "Forbidden",
	NotFound:             "Not Found",
	MethodNotAllowed:     "Method Not Allowed",
	NotAcceptable:        "Not Acceptable",
	RequestTimeout:       "Request Timeout",
	Conflict:             "Conflict",
	Gone:                 "Gone",
	PayloadTooLarge:      "Payload Too Large",
	UnsupportedMediaType: "Unsupported Media Type",
	UnprocessableEntity:  "Unprocessable Entity",
	TooManyRequests:      "Too Many Requests",
	InternalServerError:  "Internal Server Error",
	NotImplemented:       "Not Implemented",
	BadGateway:           "Bad Gateway",
	ServiceUnavailable:   "Service Unavailable",
	GatewayTimeout:       "Gateway Timeout",
}

type Map map[string]interface{}
