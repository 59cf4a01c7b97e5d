// Package health provides liveness and readiness checks for the ops endpoints
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Check is a named readiness check
type Check struct {
	Name  string
	Check func(ctx context.Context) error
}

// SQSCheck wraps an SQS connectivity probe
func SQSCheck(probe func(ctx context.Context) error) Check {
	return Check{Name: "sqs", Check: probe}
}

// NATSCheck wraps a NATS connectivity probe
func NATSCheck(probe func(ctx context.Context) error) Check {
	return Check{Name: "nats", Check: probe}
}

// RedisCheck wraps a Redis connectivity probe
func RedisCheck(probe func(ctx context.Context) error) Check {
	return Check{Name: "redis", Check: probe}
}

// Checker runs registered readiness checks and serves health endpoints
type Checker struct {
	mu        sync.RWMutex
	readiness []Check
}

// NewChecker creates an empty health checker
func NewChecker() *Checker {
	return &Checker{}
}

// AddReadinessCheck registers a readiness check
func (c *Checker) AddReadinessCheck(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readiness = append(c.readiness, check)
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status string        `json:"status"`
	Checks []checkResult `json:"checks"`
}

// HandleLive reports process liveness
func (c *Checker) HandleLive(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, healthResponse{Status: "UP", Checks: []checkResult{}})
}

// HandleReady runs all readiness checks and reports the aggregate
func (c *Checker) HandleReady(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, c.runChecks(r.Context()))
}

// HandleHealth is the combined health endpoint
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, c.runChecks(r.Context()))
}

func (c *Checker) runChecks(ctx context.Context) healthResponse {
	c.mu.RLock()
	checks := make([]Check, len(c.readiness))
	copy(checks, c.readiness)
	c.mu.RUnlock()

	resp := healthResponse{Status: "UP", Checks: make([]checkResult, 0, len(checks))}

	for _, check := range checks {
		result := checkResult{Name: check.Name, Status: "UP"}

		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		if err := runCheck(checkCtx, check); err != nil {
			result.Status = "DOWN"
			result.Error = err.Error()
			resp.Status = "DOWN"
		}
		cancel()

		resp.Checks = append(resp.Checks, result)
	}

	return resp
}

// runCheck executes one check, converting panics into errors
func runCheck(ctx context.Context, check Check) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()
	return check.Check(ctx)
}

func writeHealth(w http.ResponseWriter, resp healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "UP" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
