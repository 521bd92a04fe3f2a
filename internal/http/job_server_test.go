package http

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"go-fleet/internal/dispatcher"
	"go-fleet/internal/fleet"
	"go-fleet/internal/model"
	"go-fleet/internal/transport"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{fmt.Errorf("job x: %w", model.ErrorNotFound), http.StatusNotFound},
		{&dispatcher.CapacityError{Worker: "srv1", Running: 1}, http.StatusConflict},
		{fmt.Errorf("%w: srv9", fleet.ErrorUnknownWorker), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w srv1", dispatcher.ErrorRejected), http.StatusBadGateway},
		{fmt.Errorf("%w: dial srv1", transport.ErrorUnreachable), http.StatusBadGateway},
		{fmt.Errorf("%w: read srv1", transport.ErrorTimeout), http.StatusBadGateway},
		{&dispatcher.StoreError{Op: "recording job", Err: errors.New("disk full")}, http.StatusInternalServerError},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, test := range tests {
		if code := statusCode(test.err); code != test.expected {
			t.Errorf("%v: expected %d, got %d", test.err, test.expected, code)
		}
	}
}

func TestElapsedTime(t *testing.T) {
	if elapsed := elapsedTime(1234567 * time.Nanosecond); elapsed != "1.23ms" {
		t.Errorf("unexpected elapsed time %s", elapsed)
	}
}
