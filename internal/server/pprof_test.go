// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockAPIService struct {
	mock.Mock
}

func (m *MockAPIService) Register(path, name, description string, handler http.Handler) error {
	args := m.Called(path, name, description, handler)
	return args.Error(0)
}

func (m *MockAPIService) Name() string {
	return "mockApiService"
}

func TestPprofInit(t *testing.T) {
	for _, registerErr := range []error{nil, assert.AnError} {
		api := &MockAPIService{}
		api.On("Register", "/debug/pprof/", "pprof", "Profiling Data", mock.AnythingOfType("*http.ServeMux")).Return(registerErr)

		p := NewPprof(api)
		assert.Equal(t, "pprof", p.Name())
		assert.Equal(t, registerErr, p.Init())
		api.AssertExpectations(t)
	}
}

func TestPprofHandlers(t *testing.T) {
	mux := handlers()
	for _, path := range []string{
		"/debug/pprof/",
		"/debug/pprof/cmdline",
		"/debug/pprof/symbol",
		"/debug/pprof/goroutine",
		"/debug/pprof/heap",
	} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.NotEqual(t, http.StatusNotFound, rr.Code, path)
	}
}
