package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/bilan_backend/config"
	"github.com/sirupsen/logrus"
)

// CaseLocker serializes mutations of one case. The store's version check stays the source of
// truth; the lock only keeps concurrent writers from burning retries on each other.
type CaseLocker interface {
	Lock(ctx context.Context, caseID string) (unlock func(), err error)
}

// NoCaseLock relies on the version check alone.
type NoCaseLock struct{}

func (NoCaseLock) Lock(ctx context.Context, caseID string) (func(), error) {
	return func() {}, nil
}

// LocalCaseLocker serializes per case inside one process.
type LocalCaseLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalCaseLocker() *LocalCaseLocker {
	return &LocalCaseLocker{locks: map[string]*localLock{}}
}

func (l *LocalCaseLocker) Lock(ctx context.Context, caseID string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[caseID]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[caseID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(caseID, lk, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(caseID, lk, true) })
	}, nil
}

func (l *LocalCaseLocker) release(caseID string, lk *localLock, held bool) {
	if held {
		<-lk.ch
	}
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, caseID)
	}
	l.mu.Unlock()
}

// RedisCaseLocker serializes per case across instances with redislock.
// It is best-effort: when Redis is unavailable or the lock is not obtained in time,
// it falls back to the in-process lock and lets the version check arbitrate.
type RedisCaseLocker struct {
	client   *redislock.Client
	local    *LocalCaseLocker
	ttl      time.Duration
	strategy redislock.RetryStrategy
	logger   *logrus.Logger
}

func NewRedisCaseLocker(client *redislock.Client, logger *logrus.Logger) *RedisCaseLocker {
	return &RedisCaseLocker{
		client:   client,
		local:    NewLocalCaseLocker(),
		ttl:      30 * time.Second,
		strategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 100),
		logger:   logger,
	}
}

func caseLockKey(caseID string) string {
	return fmt.Sprintf("lock:case:%s", caseID)
}

func (l *RedisCaseLocker) Lock(ctx context.Context, caseID string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if l.client == nil {
		return unlockLocal, nil
	}

	lock, err := l.client.Obtain(ctx, caseLockKey(caseID), l.ttl, &redislock.Options{RetryStrategy: l.strategy})
	if errors.Is(err, redislock.ErrNotObtained) {
		config.LogWarn(l.logger, "workflow", "RedisCaseLocker.Lock", "could not obtain redis lock; proceeding without it", caseID, err.Error())
		return unlockLocal, nil
	} else if err != nil {
		if ctx.Err() != nil {
			unlockLocal()
			return nil, ctx.Err()
		}
		config.LogWarn(l.logger, "workflow", "RedisCaseLocker.Lock", "error obtaining redis lock; proceeding without it", caseID, err.Error())
		return unlockLocal, nil
	}

	return func() {
		// Release with a fresh context: the request context may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if releaseErr := lock.Release(releaseCtx); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			config.LogWarn(l.logger, "workflow", "RedisCaseLocker.Lock", "failed to release redis lock", caseID, releaseErr.Error())
		}
		unlockLocal()
	}, nil
}
