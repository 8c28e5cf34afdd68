package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State 회로 상태
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrCircuitOpen 회로가 열려 호출이 차단됨
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker 외부 호출 보호용 서킷 브레이커
type CircuitBreaker struct {
	maxFailures     int
	resetTimeout    time.Duration
	failureCount    int
	lastFailureTime time.Time
	state           State
	isFailure       func(error) bool
	now             func() time.Time
	mu              sync.Mutex
}

// Option 서킷 브레이커 옵션
type Option func(*CircuitBreaker)

// WithFailurePredicate 실패로 셀 에러 판별. 기본값은 nil이 아닌 모든 에러
func WithFailurePredicate(fn func(error) bool) Option {
	return func(cb *CircuitBreaker) {
		cb.isFailure = fn
	}
}

// New 서킷 브레이커 생성
func New(maxFailures int, resetTimeout time.Duration, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		isFailure:    func(err error) bool { return err != nil },
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute fn 실행. 열린 상태면 fn을 호출하지 않고 ErrCircuitOpen 반환.
// 실패로 판별되지 않은 에러는 상대가 응답한 것으로 보고 성공과 같이 기록한다
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) <= cb.resetTimeout {
			return false
		}
		cb.state = StateHalfOpen
		cb.failureCount = 0
	}
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.isFailure(err) {
		cb.failureCount++
		cb.lastFailureTime = cb.now()
		if cb.state == StateHalfOpen || cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
		}
		return
	}

	cb.state = StateClosed
	cb.failureCount = 0
}

// State 현재 상태
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
