package pipeline

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorBody is the JSON body of rejections.
type ErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// rejection is the terminal outcome of a stage.
type rejection struct {
	reason     Reason
	message    string
	retryAfter int
	// cause is logged, never sent to the client
	cause error
}

func reject(reason Reason, message string) *rejection {
	return &rejection{reason: reason, message: message}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(status)
	w.Write(b)
}

func writeRejection(w http.ResponseWriter, rj *rejection) {
	writeJSON(w, rj.reason.Status(), ErrorBody{
		Error:      rj.reason.Error(),
		Message:    rj.message,
		RetryAfter: rj.retryAfter,
	})
}
