// This file is a fixture compiled at test time with
// `go build -buildmode=plugin`, never by the normal build (testdata/ is
// always excluded from package discovery).
package main

import "github.com/reaatech/funcdock/internal/registry"

type handlerV2 struct{}

func (handlerV2) Invoke(ctx *registry.InvocationContext) (*registry.Response, error) {
	return &registry.Response{Status: 200, Body: []byte("v2")}, nil
}

func NewHandler() registry.Handler { return handlerV2{} }
