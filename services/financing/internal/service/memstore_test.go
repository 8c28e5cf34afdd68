package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kyungseok/laptop-financing/services/financing/internal/domain"
	"github.com/kyungseok/laptop-financing/services/financing/internal/provider"
	"github.com/kyungseok/laptop-financing/services/financing/internal/repository"
)

// memStore 트랜잭션 롤백을 흉내 내는 인메모리 저장소
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	laptops      map[uuid.UUID]domain.Laptop
	applications map[uuid.UUID]domain.Application
	payments     map[uuid.UUID]domain.Payment
	outbox       []repository.OutboxEvent
	students     map[uuid.UUID]domain.StudentSummary

	// failCAS 설정되면 노트북 상태 CAS가 이 에러로 실패한다
	failCAS error
}

func newMemStore() *memStore {
	return &memStore{
		laptops:      make(map[uuid.UUID]domain.Laptop),
		applications: make(map[uuid.UUID]domain.Application),
		payments:     make(map[uuid.UUID]domain.Payment),
		students:     make(map[uuid.UUID]domain.StudentSummary),
	}
}

type memSnapshot struct {
	laptops      map[uuid.UUID]domain.Laptop
	applications map[uuid.UUID]domain.Application
	payments     map[uuid.UUID]domain.Payment
	outbox       []repository.OutboxEvent
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memSnapshot{
		laptops:      make(map[uuid.UUID]domain.Laptop, len(m.laptops)),
		applications: make(map[uuid.UUID]domain.Application, len(m.applications)),
		payments:     make(map[uuid.UUID]domain.Payment, len(m.payments)),
		outbox:       append([]repository.OutboxEvent(nil), m.outbox...),
	}
	for k, v := range m.laptops {
		s.laptops[k] = v
	}
	for k, v := range m.applications {
		s.applications[k] = v
	}
	for k, v := range m.payments {
		s.payments[k] = v
	}
	return s
}

func (m *memStore) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.laptops = s.laptops
	m.applications = s.applications
	m.payments = s.payments
	m.outbox = s.outbox
}

// TxManager

func (m *memStore) DB() repository.Querier { return nil }

func (m *memStore) WithinTx(ctx context.Context, fn func(tx repository.Querier) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(nil); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// seed helpers

func (m *memStore) addLaptop(model string, price int64) domain.Laptop {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := domain.Laptop{
		ID:        uuid.New(),
		Model:     model,
		Brand:     "Lenovo",
		Price:     decimal.NewFromInt(price),
		Status:    domain.LaptopStatusAvailable,
		CreatedAt: time.Now(),
	}
	m.laptops[l.ID] = l
	return l
}

func (m *memStore) laptop(id uuid.UUID) domain.Laptop {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.laptops[id]
}

func (m *memStore) applicationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applications)
}

func (m *memStore) outboxTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.outbox))
	for _, e := range m.outbox {
		types = append(types, e.EventType)
	}
	return types
}

func (m *memStore) outboxEvents() []repository.OutboxEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repository.OutboxEvent(nil), m.outbox...)
}

func (m *memStore) paymentByCheckout(checkoutID string) (domain.Payment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.CheckoutID == checkoutID {
			return p, true
		}
	}
	return domain.Payment{}, false
}

// LaptopRepository

type memLaptopRepo struct{ m *memStore }

func (r memLaptopRepo) Create(ctx context.Context, q repository.Querier, laptop *domain.Laptop) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.laptops[laptop.ID] = *laptop
	return nil
}

func (r memLaptopRepo) FindByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.Laptop, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	l, ok := r.m.laptops[id]
	if !ok {
		return nil, fmt.Errorf("laptop %s: %w", id, repository.ErrNotFound)
	}
	return &l, nil
}

func (r memLaptopRepo) FindByIDForUpdate(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.Laptop, error) {
	return r.FindByID(ctx, q, id)
}

func (r memLaptopRepo) CompareAndSetStatus(ctx context.Context, q repository.Querier, id uuid.UUID, from, to domain.LaptopStatus) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failCAS != nil {
		return false, r.m.failCAS
	}
	l, ok := r.m.laptops[id]
	if !ok || l.Status != from {
		return false, nil
	}
	l.Status = to
	r.m.laptops[id] = l
	return true, nil
}

func (r memLaptopRepo) SetStatus(ctx context.Context, q repository.Querier, id uuid.UUID, status domain.LaptopStatus) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	l, ok := r.m.laptops[id]
	if !ok {
		return false, nil
	}
	l.Status = status
	r.m.laptops[id] = l
	return true, nil
}

func (r memLaptopRepo) ListByStatus(ctx context.Context, q repository.Querier, status domain.LaptopStatus) ([]*domain.Laptop, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*domain.Laptop
	for _, l := range r.m.laptops {
		if l.Status == status {
			l := l
			out = append(out, &l)
		}
	}
	return out, nil
}

func (r memLaptopRepo) CountByStatus(ctx context.Context, q repository.Querier) (map[domain.LaptopStatus]int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	counts := make(map[domain.LaptopStatus]int)
	for _, l := range r.m.laptops {
		counts[l.Status]++
	}
	return counts, nil
}

// ApplicationRepository

type memApplicationRepo struct{ m *memStore }

func (r memApplicationRepo) Create(ctx context.Context, q repository.Querier, app *domain.Application) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, a := range r.m.applications {
		if a.StudentID == app.StudentID && a.LaptopID == app.LaptopID && a.Status == domain.ApplicationStatusPending {
			return repository.ErrDuplicate
		}
	}
	r.m.applications[app.ID] = *app
	return nil
}

func (r memApplicationRepo) FindByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.Application, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.applications[id]
	if !ok {
		return nil, fmt.Errorf("application %s: %w", id, repository.ErrNotFound)
	}
	return &a, nil
}

func (r memApplicationRepo) FindByIDForUpdate(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.Application, error) {
	return r.FindByID(ctx, q, id)
}

func (r memApplicationRepo) ExistsPending(ctx context.Context, q repository.Querier, studentID, laptopID uuid.UUID) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, a := range r.m.applications {
		if a.StudentID == studentID && a.LaptopID == laptopID && a.Status == domain.ApplicationStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (r memApplicationRepo) UpdateStatus(ctx context.Context, q repository.Querier, id uuid.UUID, status domain.ApplicationStatus, updatedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.applications[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = updatedAt
	r.m.applications[id] = a
	return nil
}

func (r memApplicationRepo) AddAmountPaid(ctx context.Context, q repository.Querier, studentID, laptopID uuid.UUID, amount decimal.Decimal) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for id, a := range r.m.applications {
		if a.StudentID == studentID && a.LaptopID == laptopID && a.Status != domain.ApplicationStatusRejected {
			a.AmountPaid = a.AmountPaid.Add(amount)
			r.m.applications[id] = a
		}
	}
	return nil
}

func (r memApplicationRepo) Delete(ctx context.Context, q repository.Querier, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.applications[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.m.applications, id)
	return nil
}

func (r memApplicationRepo) view(a domain.Application) *domain.ApplicationView {
	l := r.m.laptops[a.LaptopID]
	return &domain.ApplicationView{
		Application: a,
		Student:     domain.StudentSummary{ID: a.StudentID, Name: r.m.students[a.StudentID].Name},
		Laptop:      domain.LaptopSummary{ID: l.ID, Model: l.Model, Brand: l.Brand, Price: l.Price},
	}
}

func (r memApplicationRepo) FindViewByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.ApplicationView, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.applications[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.view(a), nil
}

func (r memApplicationRepo) list(match func(domain.Application) bool) []*domain.ApplicationView {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*domain.ApplicationView
	for _, a := range r.m.applications {
		if match(a) {
			out = append(out, r.view(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppliedAt.After(out[j].AppliedAt) })
	return out
}

func (r memApplicationRepo) List(ctx context.Context, q repository.Querier, status *domain.ApplicationStatus) ([]*domain.ApplicationView, error) {
	return r.list(func(a domain.Application) bool { return status == nil || a.Status == *status }), nil
}

func (r memApplicationRepo) ListByStudent(ctx context.Context, q repository.Querier, studentID uuid.UUID) ([]*domain.ApplicationView, error) {
	return r.list(func(a domain.Application) bool { return a.StudentID == studentID }), nil
}

// PaymentRepository

type memPaymentRepo struct{ m *memStore }

func (r memPaymentRepo) Create(ctx context.Context, q repository.Querier, payment *domain.Payment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, p := range r.m.payments {
		if p.CheckoutID == payment.CheckoutID {
			return repository.ErrDuplicate
		}
	}
	r.m.payments[payment.ID] = *payment
	return nil
}

func (r memPaymentRepo) FindByCheckoutIDForUpdate(ctx context.Context, q repository.Querier, checkoutID string) (*domain.Payment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, p := range r.m.payments {
		if p.CheckoutID == checkoutID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("payment %s: %w", checkoutID, repository.ErrNotFound)
}

func (r memPaymentRepo) UpdateResult(ctx context.Context, q repository.Querier, payment *domain.Payment) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.payments[payment.ID]
	if !ok || stored.Status != domain.PaymentStatusPending {
		return false, nil
	}
	r.m.payments[payment.ID] = *payment
	return true, nil
}

func (r memPaymentRepo) Totals(ctx context.Context, q repository.Querier, studentID, laptopID uuid.UUID) (repository.BalanceTotals, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var t repository.BalanceTotals
	for _, p := range r.m.payments {
		if p.StudentID != studentID || p.LaptopID != laptopID {
			continue
		}
		switch p.Status {
		case domain.PaymentStatusSuccess:
			t.Settled = t.Settled.Add(p.Amount)
		case domain.PaymentStatusPending:
			t.Held = t.Held.Add(p.Amount)
		}
	}
	return t, nil
}

func (r memPaymentRepo) SumSucceeded(ctx context.Context, q repository.Querier) (decimal.Decimal, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	total := decimal.Zero
	for _, p := range r.m.payments {
		if p.Status == domain.PaymentStatusSuccess {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

func (r memPaymentRepo) list(match func(domain.Payment) bool) []*domain.PaymentView {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*domain.PaymentView
	for _, p := range r.m.payments {
		if !match(p) {
			continue
		}
		l := r.m.laptops[p.LaptopID]
		out = append(out, &domain.PaymentView{
			Payment: p,
			Student: domain.StudentSummary{ID: p.StudentID},
			Laptop:  domain.LaptopSummary{ID: l.ID, Model: l.Model, Brand: l.Brand, Price: l.Price},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r memPaymentRepo) FindLatestByStudent(ctx context.Context, q repository.Querier, studentID uuid.UUID) (*domain.PaymentView, error) {
	views := r.list(func(p domain.Payment) bool { return p.StudentID == studentID })
	if len(views) == 0 {
		return nil, repository.ErrNotFound
	}
	return views[0], nil
}

func (r memPaymentRepo) ListAll(ctx context.Context, q repository.Querier) ([]*domain.PaymentView, error) {
	return r.list(func(domain.Payment) bool { return true }), nil
}

func (r memPaymentRepo) ListByStudent(ctx context.Context, q repository.Querier, studentID uuid.UUID) ([]*domain.PaymentView, error) {
	return r.list(func(p domain.Payment) bool { return p.StudentID == studentID }), nil
}

// OutboxRepository

type memOutboxRepo struct{ m *memStore }

func (r memOutboxRepo) Insert(ctx context.Context, q repository.Querier, event *repository.OutboxEvent) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	event.ID = int64(len(r.m.outbox) + 1)
	r.m.outbox = append(r.m.outbox, *event)
	return nil
}

func (r memOutboxRepo) FindPending(ctx context.Context, q repository.Querier, limit int) ([]*repository.OutboxEvent, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*repository.OutboxEvent
	for i := range r.m.outbox {
		if r.m.outbox[i].Status == repository.OutboxStatusPending && len(out) < limit {
			e := r.m.outbox[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

func (r memOutboxRepo) MarkSent(ctx context.Context, q repository.Querier, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := range r.m.outbox {
		if r.m.outbox[i].ID == id {
			r.m.outbox[i].Status = repository.OutboxStatusSent
		}
	}
	return nil
}

// fakeProvider 제공자 대역

type fakeProvider struct {
	mu    sync.Mutex
	seq   int
	err    error
	calls  []provider.PushRequest
	onPush func()
}

func (p *fakeProvider) Push(ctx context.Context, req provider.PushRequest) (*provider.PushResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.onPush != nil {
		p.onPush()
	}
	if p.err != nil {
		return nil, p.err
	}
	p.seq++
	return &provider.PushResult{
		CheckoutRequestID:   fmt.Sprintf("ws_CO_%03d", p.seq),
		MerchantRequestID:   fmt.Sprintf("m-%03d", p.seq),
		ResponseDescription: "Success. Request accepted for processing",
	}, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// fakeLocker 인메모리 SETNX. 토큰이 일치할 때만 해제한다

type fakeLocker struct {
	mu     sync.Mutex
	seq    int
	held   map[string]string
	stolen int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string)}
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.seq++
	token := fmt.Sprintf("token-%d", l.seq)
	l.held[key] = token
	return token, true, nil
}

func (l *fakeLocker) Release(ctx context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		l.stolen++
		return false, nil
	}
	delete(l.held, key)
	return true, nil
}

// expireAndTake TTL 만료 후 다른 요청이 같은 키를 잡은 상황
func (l *fakeLocker) expireAndTake(key string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	token := fmt.Sprintf("token-%d", l.seq)
	l.held[key] = token
	return token
}

func (l *fakeLocker) holder(key string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

func decodePayload[T any](e repository.OutboxEvent) T {
	var v T
	_ = json.Unmarshal(e.Payload, &v)
	return v
}
