package probes

import (
	"fmt"
	"strconv"
)

// Probe names
const (
	FibonacciName  = "fibonacci"
	BubbleSortName = "bubble-sort"
)

// maxBubbleSortPower keeps the array size within a 32-bit int
const maxBubbleSortPower = 30

// NewFibonacci computes fib(load) on the target, which fans the recursion out
// across the cluster.
func NewFibonacci(baseURL string, opts ...Option) *HTTPProbe {
	return newHTTPProbe(FibonacciName,
		"Recursive fibonacci of the load, with each call dispatched over HTTP",
		1, baseURL,
		func(load int) (string, error) {
			if load < 0 {
				return "", fmt.Errorf("fibonacci load must not be negative, got %d", load)
			}
			return "/fibonacci/" + strconv.Itoa(load), nil
		}, opts...)
}

// NewBubbleSort sorts a descending array of 2^load integers on the target.
func NewBubbleSort(baseURL string, opts ...Option) *HTTPProbe {
	return newHTTPProbe(BubbleSortName,
		"Bubble sort of a reversed array whose size is two to the power of the load",
		10, baseURL,
		func(load int) (string, error) {
			if load < 0 || load > maxBubbleSortPower {
				return "", fmt.Errorf("bubble-sort load must be in [0, %d], got %d", maxBubbleSortPower, load)
			}
			return "/bubble-sort?n=" + strconv.Itoa(1<<load), nil
		}, opts...)
}
