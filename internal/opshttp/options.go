package opshttp

import (
	"net/http"

	"github.com/bobbiedigital/bobbiedigital-web/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	UseRecoverMW bool
	// OnPanic is called when the recover middleware catches a panic, e.g. to
	// increment a prometheus counter.
	OnPanic func()
}
