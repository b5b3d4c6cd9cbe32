package dispatcher

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reaatech/funcdock/internal/events"
	"github.com/reaatech/funcdock/internal/registry"
)

func TestContentTypeOfFindsHeaderCaseInsensitively(t *testing.T) {
	assert.Equal(t, "application/json", contentTypeOf(map[string]string{"content-type": "application/json"}))
	assert.Equal(t, "text/plain", contentTypeOf(map[string]string{"Content-Type": "text/plain"}))
}

func TestContentTypeOfFallsBackToOctetStreamWhenAbsent(t *testing.T) {
	assert.Equal(t, "application/octet-stream", contentTypeOf(map[string]string{"X-Custom": "x"}))
	assert.Equal(t, "application/octet-stream", contentTypeOf(nil))
}

func TestJoinMethodsFormatsACommaSeparatedList(t *testing.T) {
	assert.Equal(t, "GET, POST", joinMethods([]registry.Method{registry.GET, registry.POST}))
}

func TestJoinMethodsHandlesASingleMethod(t *testing.T) {
	assert.Equal(t, "GET", joinMethods([]registry.Method{registry.GET}))
}

func TestJoinMethodsHandlesAnEmptySlice(t *testing.T) {
	assert.Equal(t, "", joinMethods(nil))
}

func TestInvokeRecoveredPassesThroughASuccessfulResponse(t *testing.T) {
	h := registry.HandlerFunc(func(ctx *registry.InvocationContext) (*registry.Response, error) {
		return &registry.Response{Status: 201, Body: []byte("ok")}, nil
	})

	resp, err := invokeRecovered(h, &registry.InvocationContext{})
	assert.NoError(t, err)
	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestInvokeRecoveredPassesThroughAHandlerError(t *testing.T) {
	wantErr := errors.New("handler blew up")
	h := registry.HandlerFunc(func(ctx *registry.InvocationContext) (*registry.Response, error) {
		return nil, wantErr
	})

	resp, err := invokeRecovered(h, &registry.InvocationContext{})
	assert.Nil(t, resp)
	assert.Equal(t, wantErr, err)
}

func TestInvokeRecoveredConvertsAPanicIntoAnError(t *testing.T) {
	h := registry.HandlerFunc(func(ctx *registry.InvocationContext) (*registry.Response, error) {
		panic("boom")
	})

	resp, err := invokeRecovered(h, &registry.InvocationContext{})
	assert.Nil(t, resp)
	assert.Error(t, err)
	assert.Equal(t, "handler panic", err.Error())
}

func TestOptionsRequestOnAnUnknownPathStillReturns404(t *testing.T) {
	reg := registry.New(t.TempDir(), registry.NewLoader(t.TempDir()), events.New())
	d := New(reg, events.New(), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/nothing/here", nil)
	d.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestInvokeRecoveredReceivesTheInvocationContextPassedIn(t *testing.T) {
	var seen *registry.InvocationContext
	h := registry.HandlerFunc(func(ctx *registry.InvocationContext) (*registry.Response, error) {
		seen = ctx
		return &registry.Response{}, nil
	})

	want := &registry.InvocationContext{PackageName: "hello", Method: registry.GET}
	_, err := invokeRecovered(h, want)
	assert.NoError(t, err)
	assert.Same(t, want, seen)
}
