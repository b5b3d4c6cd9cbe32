package apperrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSetsStatusCodeFromTaxonomy(t *testing.T) {
	cases := []struct {
		code   string
		status int
	}{
		{CodePackageIncomplete, http.StatusBadRequest},
		{CodeRouteConflict, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeNotFound, http.StatusNotFound},
		{CodeMethodNotAllowed, http.StatusMethodNotAllowed},
		{CodeDeployBusy, http.StatusConflict},
		{CodeDeployFailed, http.StatusUnprocessableEntity},
		{CodeInternal, http.StatusInternalServerError},
		{"SOMETHING_UNKNOWN", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		err := New(tc.code, "message")
		assert.Equal(t, tc.status, err.StatusCode, tc.code)
	}
}

func TestWrapCapturesUnderlyingErrorAsDetails(t *testing.T) {
	underlying := errors.New("disk full")
	err := Wrap(CodeDeployFailed, "deploy failed", underlying)
	assert.Equal(t, "disk full", err.Details)
	assert.Equal(t, CodeDeployFailed, err.Code)
}

func TestWrapWithNilErrorLeavesDetailsEmpty(t *testing.T) {
	err := Wrap(CodeInternal, "no error here", nil)
	assert.Empty(t, err.Details)
}

func TestErrorStringIncludesDetailsOnlyWhenPresent(t *testing.T) {
	withDetails := NewWithDetails(CodeRouteConflict, "conflict", "GET /foo claimed twice")
	assert.Equal(t, "ROUTE_CONFLICT: conflict - GET /foo claimed twice", withDetails.Error())

	withoutDetails := New(CodeNotFound, "function not found")
	assert.Equal(t, "NOT_FOUND: function not found", withoutDetails.Error())
}

func TestToResponseOmitsDetailWhenEmpty(t *testing.T) {
	err := New(CodeBadRequest, "missing field")
	resp := err.ToResponse()
	assert.False(t, resp.OK)
	assert.Equal(t, CodeBadRequest, resp.Error)
	assert.Equal(t, "missing field", resp.Message)
	assert.Empty(t, resp.Detail)
}

func TestConstructorsProduceExpectedCodes(t *testing.T) {
	assert.Equal(t, CodePackageIncomplete, PackageIncomplete("missing route.config.json").Code)
	assert.Equal(t, CodePackageMalformed, PackageMalformed("bad json").Code)
	assert.Equal(t, CodeRouteConflict, RouteConflict("GET /foo").Code)
	assert.Equal(t, CodeDeployBusy, DeployBusy("hello").Code)
	assert.Contains(t, DeployBusy("hello").Message, "hello")
	assert.Equal(t, CodeValidationFailed, ValidationFailed("smoke test failed").Code)
	assert.Equal(t, CodeInvalidPath, InvalidPath("../escape").Code)
	assert.Equal(t, CodeNotFound, NotFound("function").Code)
	assert.Contains(t, NotFound("function").Message, "function")
	assert.Equal(t, CodeMethodNotAllowed, MethodNotAllowed("POST", "/foo").Code)
	assert.Equal(t, CodeBadRequest, BadRequest("bad input").Code)
	assert.Equal(t, CodeUnauthorized, Unauthorized("nope").Code)
	assert.Equal(t, CodeInternal, Internal(errors.New("boom")).Code)
}

func TestHandlerLoadFailedIncludesHandlerFileInMessage(t *testing.T) {
	err := HandlerLoadFailed("handler.so", errors.New("plugin: symbol not found"))
	assert.Contains(t, err.Message, "handler.so")
	assert.Equal(t, "plugin: symbol not found", err.Details)
}
