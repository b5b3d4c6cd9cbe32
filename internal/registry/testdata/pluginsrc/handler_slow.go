// This file is a fixture compiled at test time with
// `go build -buildmode=plugin`, never by the normal build (testdata/ is
// always excluded from package discovery).
package main

import (
	"time"

	"github.com/reaatech/funcdock/internal/registry"
)

type handlerSlow struct{}

func (handlerSlow) Invoke(ctx *registry.InvocationContext) (*registry.Response, error) {
	time.Sleep(300 * time.Millisecond)
	return &registry.Response{Status: 200, Body: []byte("v1")}, nil
}

func NewHandler() registry.Handler { return handlerSlow{} }
