// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package api serves the power supply over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ffutop/instrlink/psu"
	"github.com/gorilla/mux"
)

// Version is reported by GET /version.
type Version struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
}

type api struct {
	psu     *psu.PowerSupply
	version Version
}

// NewRouter returns the routes for p.
func NewRouter(p *psu.PowerSupply, v Version) *mux.Router {
	a := &api{psu: p, version: v}

	router := mux.NewRouter()
	router.HandleFunc("/version", a.versionInfo).Methods("GET")
	router.HandleFunc("/identity", a.getIdentity).Methods("GET")
	router.HandleFunc("/status", a.getStatus).Methods("GET")
	router.HandleFunc("/limits", a.getLimits).Methods("GET")
	router.HandleFunc("/voltage", a.setVoltage).Methods("PUT")
	router.HandleFunc("/current", a.setCurrent).Methods("PUT")
	router.HandleFunc("/range", a.getRange).Methods("GET")
	router.HandleFunc("/range", a.setRange).Methods("PUT")
	router.HandleFunc("/output/{state:on|off}", a.setOutput).Methods("POST")
	return router
}

// Server wraps an http.Server for the daemon.
type Server struct {
	h *http.Server
}

// NewServer creates an HTTP server on address.
func NewServer(address string, handler http.Handler) *Server {
	return &Server{h: &http.Server{Addr: address, Handler: handler, ReadHeaderTimeout: 5 * time.Second}}
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.h.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP API listening", "addr", s.h.Addr)
	if err := s.h.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	e := json.NewEncoder(w)
	e.SetIndent("", "    ")
	e.Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(code)
	w.Write([]byte(err.Error()))
}

// fail maps driver errors to status codes.
func fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, psu.ErrInvalidRange), errors.Is(err, psu.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, err)
	default:
		slog.Error("Request failed", "err", err)
		writeError(w, http.StatusBadGateway, err)
	}
}

func readValue(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", psu.ErrInvalidValue, err)
	}
	return nil
}

func (a *api) versionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.version)
}

func (a *api) getIdentity(w http.ResponseWriter, r *http.Request) {
	idn, err := a.psu.Instrument().Identity(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, struct {
		Identity string `json:"identity"`
		Address  string `json:"address"`
	}{Identity: idn, Address: a.psu.Instrument().Address()})
}

func (a *api) getStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.psu.Status(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, st)
}

func (a *api) getLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.psu.Limits())
}

func (a *api) setVoltage(w http.ResponseWriter, r *http.Request) {
	var v float64
	if err := readValue(r, &v); err != nil {
		fail(w, err)
		return
	}
	if err := a.psu.SetVoltage(r.Context(), v); err != nil {
		fail(w, err)
		return
	}
	a.getStatus(w, r)
}

func (a *api) setCurrent(w http.ResponseWriter, r *http.Request) {
	var i float64
	if err := readValue(r, &i); err != nil {
		fail(w, err)
		return
	}
	if err := a.psu.SetCurrent(r.Context(), i); err != nil {
		fail(w, err)
		return
	}
	a.getStatus(w, r)
}

func (a *api) getRange(w http.ResponseWriter, r *http.Request) {
	rng, err := a.psu.CurrentRange(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, rng)
}

func (a *api) setRange(w http.ResponseWriter, r *http.Request) {
	var rng int
	if err := readValue(r, &rng); err != nil {
		fail(w, err)
		return
	}
	if err := a.psu.SetCurrentRange(r.Context(), psu.Range(rng)); err != nil {
		fail(w, err)
		return
	}
	a.getStatus(w, r)
}

func (a *api) setOutput(w http.ResponseWriter, r *http.Request) {
	var err error
	if mux.Vars(r)["state"] == "on" {
		err = a.psu.EnableOutput(r.Context())
	} else {
		err = a.psu.DisableOutput(r.Context())
	}
	if err != nil {
		fail(w, err)
		return
	}
	a.getStatus(w, r)
}
