package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
)

type ErrorHandler struct {
	endpoint string
}

type jsonError struct {
	ErrorMsg string            `json:"error"`
	Fields   map[string]string `json:"fields,omitempty"`
}

func NewErrorHandler(endpoint string) *ErrorHandler {
	return &ErrorHandler{endpoint}
}

func (eh *ErrorHandler) WriteAndLogError(
	w http.ResponseWriter,
	msg string,
	err error,
	statusCode int,
	fields log.Fields,
) {
	fields["endpoint"] = eh.endpoint
	logErr := fmt.Errorf("%s: %w", msg, err)
	responseErr := ""
	switch {
	case statusCode == http.StatusBadGateway:
		log.WithFields(fields).Warn(logErr)
		responseErr = logErr.Error()
	case statusCode >= 500:
		log.WithFields(fields).Error(logErr)
		responseErr = msg
	default:
		log.WithFields(fields).Debug(logErr)
		responseErr = logErr.Error()
	}
	eh.writeErrorMsg(w, jsonError{ErrorMsg: responseErr}, statusCode)
}

func (eh *ErrorHandler) WriteAndLogErrorMsg(
	w http.ResponseWriter,
	msg string,
	statusCode int,
	fields log.Fields,
) {
	fields["endpoint"] = eh.endpoint
	if statusCode >= 500 {
		log.WithFields(fields).Error(msg)
	} else {
		log.WithFields(fields).Debug(msg)
	}
	eh.writeErrorMsg(w, jsonError{ErrorMsg: msg}, statusCode)
}

func (eh *ErrorHandler) WriteAndLogValidationErrors(
	w http.ResponseWriter,
	err validator.ValidationErrors,
	fields log.Fields,
) {
	fields["endpoint"] = eh.endpoint
	response := jsonError{ErrorMsg: "validation error", Fields: make(map[string]string, len(err))}
	failed := make([]string, 0, len(err))
	for _, fieldErr := range err {
		response.Fields[fieldErr.Field()] = fieldErr.Tag()
		failed = append(failed, fieldErr.Field())
	}
	log.WithFields(fields).Debugf("validation failed for %s", strings.Join(failed, ", "))
	eh.writeErrorMsg(w, response, http.StatusUnprocessableEntity)
}

func (eh *ErrorHandler) writeErrorMsg(w http.ResponseWriter, response jsonError, statusCode int) {
	resp, _ := json.Marshal(response)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(resp)
}
