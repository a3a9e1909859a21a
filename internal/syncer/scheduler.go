// Package syncer keeps the staff client's stores in step with the server by
// polling. Ticks are time-driven: a slow response never delays the next tick,
// and the last response to resolve wins.
package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"retail-ops/support-chat/internal/client"
	"retail-ops/support-chat/internal/models"
	"retail-ops/support-chat/internal/store"
)

type Config struct {
	SessionInterval time.Duration
	MessageInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		SessionInterval: 5 * time.Second,
		MessageInterval: 3 * time.Second,
	}
}

type Scheduler struct {
	api      client.API
	sessions *store.SessionStore
	messages *store.MessageStore
	cfg      Config

	mu            sync.Mutex
	sessionCancel context.CancelFunc
	msgCancel     context.CancelFunc
	msgSession    primitive.ObjectID
	// gen changes whenever the message poll is started or stopped; responses
	// carrying an older value are dropped.
	gen uint64

	wg sync.WaitGroup
}

func New(api client.API, sessions *store.SessionStore, messages *store.MessageStore, cfg Config) *Scheduler {
	if cfg.SessionInterval <= 0 {
		cfg.SessionInterval = DefaultConfig().SessionInterval
	}
	if cfg.MessageInterval <= 0 {
		cfg.MessageInterval = DefaultConfig().MessageInterval
	}
	return &Scheduler{api: api, sessions: sessions, messages: messages, cfg: cfg}
}

// StartSessions begins polling the session lists, replacing any running poll.
func (s *Scheduler) StartSessions(ctx context.Context) {
	s.mu.Lock()
	if s.sessionCancel != nil {
		s.sessionCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.sessionCancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, s.cfg.SessionInterval, func(ctx context.Context) {
		reqCtx, cancel := context.WithTimeout(ctx, s.cfg.SessionInterval)
		defer cancel()
		if err := s.RefreshSessions(reqCtx); err != nil && ctx.Err() == nil {
			log.Printf("[SYNC] session poll failed: %v", err)
		}
	})
}

func (s *Scheduler) StopSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionCancel != nil {
		s.sessionCancel()
		s.sessionCancel = nil
	}
}

// RefreshSessions fetches the waiting queue and the caller's own sessions
// and swaps the merged list into the store.
func (s *Scheduler) RefreshSessions(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	var waiting, mine []models.ChatSession
	g.Go(func() error {
		var err error
		waiting, err = s.api.ListWaitingSessions(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		mine, err = s.api.ListMySessions(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.sessions.Replace(store.MergeVisible(waiting, mine))
	return nil
}

// StartMessages cancels the poll of the previously open session, syncs the
// given session once right away and then polls it.
func (s *Scheduler) StartMessages(ctx context.Context, sessionID primitive.ObjectID) {
	s.mu.Lock()
	if s.msgCancel != nil {
		s.msgCancel()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(ctx)
	s.msgCancel = cancel
	s.msgSession = sessionID
	s.mu.Unlock()

	poll := func(ctx context.Context) {
		if err := s.fetchMessages(ctx, sessionID, gen); err != nil && ctx.Err() == nil {
			log.Printf("[SYNC] message poll for %s failed: %v", sessionID.Hex(), err)
		}
	}

	poll(ctx)

	s.wg.Add(1)
	go s.run(ctx, s.cfg.MessageInterval, poll)
}

// StopMessages cancels the message poll. Responses still in flight are discarded.
func (s *Scheduler) StopMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msgCancel != nil {
		s.msgCancel()
		s.msgCancel = nil
	}
	s.msgSession = primitive.NilObjectID
	s.gen++
}

// RefreshMessages re-fetches the polled session once, outside the timer.
func (s *Scheduler) RefreshMessages(ctx context.Context) error {
	s.mu.Lock()
	id, gen, polling := s.msgSession, s.gen, s.msgCancel != nil
	s.mu.Unlock()
	if !polling {
		return nil
	}
	return s.fetchMessages(ctx, id, gen)
}

func (s *Scheduler) MessagePolling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgCancel != nil
}

func (s *Scheduler) MessageSession() primitive.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgSession
}

// Stop cancels both polls and waits for in-flight fetches to return.
func (s *Scheduler) Stop() {
	s.StopSessions()
	s.StopMessages()
	s.wg.Wait()
}

func (s *Scheduler) fetchMessages(ctx context.Context, sessionID primitive.ObjectID, gen uint64) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.MessageInterval)
	defer cancel()

	msgs, err := s.api.GetMessages(reqCtx, sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil
	}
	s.messages.Replace(sessionID, msgs)
	return nil
}

func (s *Scheduler) run(ctx context.Context, every time.Duration, tick func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				tick(ctx)
			}()
		case <-ctx.Done():
			return
		}
	}
}
