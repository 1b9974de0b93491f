package utils

import (
	"encoding/json"
	"net/http"
)

// Response represents a generic response
type Response struct {
	Status  string      `json:"status"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Error   string      `json:"error"`
}

// RespondWithError sends an error response
func RespondWithError(w http.ResponseWriter, code int, msg string) {
	RespondWithJSON(w, code, Response{
		Status: "error",
		Code:   code,
		Error:  msg,
	})
}

// RespondWithData sends a success response carrying data
func RespondWithData(w http.ResponseWriter, code int, data interface{}) {
	RespondWithJSON(w, code, Response{
		Status: "success",
		Code:   code,
		Data:   data,
	})
}

// RespondWithText sends a plain text body, used for provider callbacks that
// expect a bare acknowledgement
func RespondWithText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(body))
}

// RespondWithJSON ... This
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
