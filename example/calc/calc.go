// Package calc is the module served by rpcd. Its client counterpart,
// example/calcstub, and the RegisterRemote skeleton are generated from this
// file.
package calc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

//go:generate go run typed-rpc/cmd/rpcgen -module example/calc -package calcstub -stub ../calcstub/calc_stub.go -skeleton calc_remote.go calc.go

// Module is the name calc is registered under.
const Module = "example/calc"

var ErrDivisionByZero = errors.New("division by zero")

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Summary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Clock exposes server time.
type Clock struct{}

func (Clock) Now() time.Time { return time.Now().UTC() }

// Sleep waits for d or until the caller goes away.
func (Clock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func Add(a, b int) int { return a + b }

func Divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	return a / b, nil
}

func Sum(xs ...int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}

func Distance(p, q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

func Stats(xs []float64) (Summary, error) {
	if len(xs) == 0 {
		return Summary{}, errors.New("no samples")
	}
	s := Summary{Count: len(xs), Min: xs[0], Max: xs[0]}
	for _, x := range xs {
		s.Mean += x
		s.Min = math.Min(s.Min, x)
		s.Max = math.Max(s.Max, x)
	}
	s.Mean /= float64(len(xs))
	return s, nil
}

func Greet(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("greet: empty name")
	}
	return fmt.Sprintf("hello %s", name), nil
}

func Ping() {}
