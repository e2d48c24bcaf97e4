package types

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(CodeUnknownChannel))
	assert.Equal(t, http.StatusConflict, StatusFor(CodeDoseRejected))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(CodeControllerStopped))
	assert.Equal(t, http.StatusInternalServerError, StatusFor("SOMETHING_NEW"))
}
