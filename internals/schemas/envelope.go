package schemas

import "net/http"

// Envelope wraps every REST response. Code 200 is success; anything else is a
// failure whose Message is meant for the user.
type Envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (e Envelope[T]) OK() bool {
	return e.Code == http.StatusOK
}

func NewEnvelope[T any](data T) Envelope[T] {
	return Envelope[T]{Code: http.StatusOK, Message: "success", Data: data}
}
