// reconcile.go — фоновая сверка отправленных транзакций с сетью.
//
// Reconciler опрашивает сервис транзакций по всем событиям SUBMITTED и
// применяет результат через Confirmer:
//   - confirmed → ApplyConfirmation
//   - failed → ApplyFailure
//   - иначе → обновляется только last_checked_at
//
// Первый цикл — через startDelay после запуска, далее по тикеру (PT_RECONCILE_INTERVAL).
// Одновременно выполняется не больше одного цикла в процессе; фоновые циклы
// при заданном Redis — не больше одного в кластере. Ручная проверка ждёт
// текущий цикл процесса и выполняется всегда, без блокировки кластера.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/pharmatrace/internal/chainclient"
	"github.com/bigkaa/pharmatrace/internal/domain/lifecycle"
	"github.com/bigkaa/pharmatrace/internal/repository"
)

// Prometheus метрики сверки
var (
	reconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pt_reconcile_runs_total",
		Help: "Общее количество циклов сверки транзакций",
	}, []string{"result"}) // result: ok, error, skipped

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pt_reconcile_duration_seconds",
		Help:    "Длительность цикла сверки в секундах",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	reconcileEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pt_reconcile_events_total",
		Help: "Количество проверенных событий по результату",
	}, []string{"outcome"}) // outcome: confirmed, failed, pending, skipped, error
)

// reconcileBatchLimit — максимум событий за один цикл.
const reconcileBatchLimit = 500

// ErrReconcileInProgress — цикл сверки уже выполняется.
var ErrReconcileInProgress = fmt.Errorf("%w: проверка транзакций уже выполняется", ErrConflict)

// CheckResult — итог одного цикла сверки.
type CheckResult struct {
	Checked   int
	Confirmed int
	Failed    int
	// Skipped — события без submission_id
	Skipped int
}

// Reconciler — сервис фоновой сверки транзакций.
type Reconciler struct {
	store      repository.Store
	chain      ChainAdapter
	confirmer  *Confirmer
	lock       PollLock
	interval   time.Duration
	startDelay time.Duration
	now        func() time.Time
	logger     *slog.Logger

	// running — семафор на один цикл в процессе
	running chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewReconciler создаёт сервис сверки. lock может быть nil.
func NewReconciler(
	store repository.Store,
	chain ChainAdapter,
	confirmer *Confirmer,
	lock PollLock,
	interval time.Duration,
	startDelay time.Duration,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		store:      store,
		chain:      chain,
		confirmer:  confirmer,
		lock:       lock,
		interval:   interval,
		startDelay: startDelay,
		now:        time.Now,
		running:    make(chan struct{}, 1),
		logger:     logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		r.logger.Info("Сверка транзакций запущена",
			slog.String("interval", r.interval.String()),
			slog.String("start_delay", r.startDelay.String()),
		)

		delay := time.NewTimer(r.startDelay)
		defer delay.Stop()
		select {
		case <-ctx.Done():
			r.logger.Info("Сверка транзакций остановлена")
			return
		case <-delay.C:
			r.tick(ctx)
		}

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Сверка транзакций остановлена")
				return
			case <-ticker.C:
				r.tick(ctx)
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
}

// IsInProgress возвращает true, если цикл сверки выполняется.
func (r *Reconciler) IsInProgress() bool {
	return len(r.running) > 0
}

func (r *Reconciler) tick(ctx context.Context) {
	result, err := r.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrReconcileInProgress):
		r.logger.Debug("Сверка уже выполняется, пропуск")
	case err != nil:
		r.logger.Error("Ошибка цикла сверки", slog.String("error", err.Error()))
	case result != nil && result.Checked > 0:
		r.logger.Info("Цикл сверки завершён",
			slog.Int("checked", result.Checked),
			slog.Int("confirmed", result.Confirmed),
			slog.Int("failed", result.Failed),
		)
	}
}

// CheckPendingTransactions — ручной запуск цикла сверки. Дожидается
// завершения текущего цикла процесса и не смотрит на блокировку кластера:
// изменения идут через CAS, параллельный цикл другого экземпляра безопасен.
func (r *Reconciler) CheckPendingTransactions(ctx context.Context) (*CheckResult, error) {
	select {
	case r.running <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-r.running }()

	return r.run(ctx)
}

// RunOnce выполняет один фоновый цикл сверки. Если цикл уже идёт —
// ErrReconcileInProgress, если его выполняет другой экземпляр — пустой итог.
// Ошибка по отдельному событию логируется, обход продолжается.
func (r *Reconciler) RunOnce(ctx context.Context) (*CheckResult, error) {
	select {
	case r.running <- struct{}{}:
	default:
		reconcileRunsTotal.WithLabelValues("skipped").Inc()
		return nil, ErrReconcileInProgress
	}
	defer func() { <-r.running }()

	if r.lock != nil {
		release, ok, err := r.lock.TryAcquire(ctx)
		switch {
		case err != nil:
			// Изменения идут через CAS, повторная обработка события ничего не меняет
			r.logger.Warn("Блокировка опроса недоступна, сверка без неё",
				slog.String("error", err.Error()),
			)
		case !ok:
			reconcileRunsTotal.WithLabelValues("skipped").Inc()
			r.logger.Debug("Сверку выполняет другой экземпляр")
			return &CheckResult{}, nil
		default:
			defer release()
		}
	}

	return r.run(ctx)
}

func (r *Reconciler) run(ctx context.Context) (*CheckResult, error) {
	started := time.Now()
	result, err := r.reconcile(ctx)
	reconcileDurationSeconds.Observe(time.Since(started).Seconds())
	if err != nil {
		reconcileRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	reconcileRunsTotal.WithLabelValues("ok").Inc()
	return result, nil
}

func (r *Reconciler) reconcile(ctx context.Context) (*CheckResult, error) {
	events, err := r.store.Repos().Events.ListByStatus(ctx, lifecycle.EventSubmitted, reconcileBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("получение отправленных событий: %w", err)
	}

	result := &CheckResult{}
	for _, e := range events {
		if ctx.Err() != nil {
			return result, nil
		}
		if e.SubmissionID == nil || *e.SubmissionID == "" {
			result.Skipped++
			reconcileEventsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		result.Checked++

		log := r.logger.With(
			slog.String("proof_event_id", e.ID),
			slog.String("submission_id", *e.SubmissionID),
		)

		st, err := r.chain.CheckSubmissionStatus(ctx, *e.SubmissionID)
		if err != nil {
			reconcileEventsTotal.WithLabelValues("error").Inc()
			log.Warn("Ошибка проверки статуса отправки", slog.String("error", err.Error()))
			continue
		}

		switch st.Status {
		case chainclient.StatusConfirmed:
			applied, err := r.confirmer.ApplyConfirmation(ctx, e, st.TxHash)
			if err != nil {
				reconcileEventsTotal.WithLabelValues("error").Inc()
				log.Error("Ошибка применения подтверждения", slog.String("error", err.Error()))
				continue
			}
			if applied {
				result.Confirmed++
				reconcileEventsTotal.WithLabelValues("confirmed").Inc()
			}
		case chainclient.StatusFailed:
			applied, err := r.confirmer.ApplyFailure(ctx, e, st.ErrorMessage)
			if err != nil {
				reconcileEventsTotal.WithLabelValues("error").Inc()
				log.Error("Ошибка применения сбоя", slog.String("error", err.Error()))
				continue
			}
			if applied {
				result.Failed++
				reconcileEventsTotal.WithLabelValues("failed").Inc()
			}
		default:
			reconcileEventsTotal.WithLabelValues("pending").Inc()
			if err := r.store.Repos().Events.TouchChecked(ctx, e.ID, r.now().UTC()); err != nil {
				log.Warn("Не удалось обновить время проверки", slog.String("error", err.Error()))
			}
		}
	}
	return result, nil
}
