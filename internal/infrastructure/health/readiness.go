// Package health собирает проверки готовности сервиса (/readyz).
package health

import (
	"context"
	"sync"
	"time"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "unavailable"
)

// CheckFunc проверка зависимости; details попадают в отчет
type CheckFunc func(ctx context.Context) (details map[string]interface{}, err error)

// CheckResult результат одной проверки
type CheckResult struct {
	Status  string                 `json:"status"`
	Error   string                 `json:"error,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Report сводный отчет готовности
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Ready true если все проверки прошли
func (r Report) Ready() bool {
	return r.Status == StatusOK
}

type namedCheck struct {
	name  string
	check CheckFunc
}

// Readiness выполняет зарегистрированные проверки параллельно
type Readiness struct {
	checks  []namedCheck
	timeout time.Duration
}

func NewReadiness(timeout time.Duration) *Readiness {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Readiness{timeout: timeout}
}

// Add регистрирует проверку
func (r *Readiness) Add(name string, check CheckFunc) *Readiness {
	r.checks = append(r.checks, namedCheck{name: name, check: check})
	return r
}

// PingCheck адаптирует Ping(ctx) error зависимостей (Redis, DB, S3)
func PingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) (map[string]interface{}, error) {
		return nil, ping(ctx)
	}
}

// Check выполняет все проверки с общим таймаутом
func (r *Readiness) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	report := Report{Status: StatusOK, Checks: make(map[string]CheckResult, len(r.checks))}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, c := range r.checks {
		wg.Add(1)
		go func(c namedCheck) {
			defer wg.Done()
			details, err := c.check(ctx)

			result := CheckResult{Status: StatusOK, Details: details}
			if err != nil {
				result.Status = StatusDegraded
				result.Error = err.Error()
			}

			mu.Lock()
			report.Checks[c.name] = result
			if err != nil {
				report.Status = StatusDegraded
			}
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	return report
}
