package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/william-takayama/ecommerce-cart/pkg/errors"
)

const (
	outcomeSuccess      = "success"
	outcomeNoop         = "noop"
	outcomeNotFound     = "not_found"
	outcomeOutOfStock   = "out_of_stock"
	outcomeUpstream     = "upstream_failure"
	outcomeConflict     = "conflict"
	outcomeStoreFailure = "store_failure"
	outcomeError        = "error"
)

var cartOperations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cart_operations_total",
		Help: "Cart engine operations by outcome.",
	},
	[]string{"operation", "outcome"},
)

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, apperrors.ErrOutOfStock):
		return outcomeOutOfStock
	case errors.Is(err, apperrors.ErrNotFound):
		return outcomeNotFound
	case errors.Is(err, apperrors.ErrUpstream):
		return outcomeUpstream
	case errors.Is(err, apperrors.ErrConflict):
		return outcomeConflict
	case errors.Is(err, errPersist):
		return outcomeStoreFailure
	default:
		return outcomeError
	}
}
