package util

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

var defaultBuckets = []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10}

// register adds c to the default registry. A collector already registered
// under the same descriptor is returned instead.
func register[C prometheus.Collector](c C) (C, error) {
	err := prometheus.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("register collector: %w", err)
}

func MustHistogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	h, err := register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    help,
		Buckets: defaultBuckets,
	}, labels))
	if err != nil {
		panic(err)
	}
	return h
}

func MustCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	c, err := register(prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels))
	if err != nil {
		panic(err)
	}
	return c
}
