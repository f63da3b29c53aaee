// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package service maps session requests onto orchestration start, query and
// signal operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/enginemgr/internal/domain/session/model"
	"github.com/ManuGH/enginemgr/internal/durable"
	xglog "github.com/ManuGH/enginemgr/internal/log"
)

// Client is the part of the orchestration client the service drives.
type Client interface {
	StartNew(ctx context.Context, orchestrator, instanceID string, input any) (string, error)
	GetStatus(ctx context.Context, instanceID string) (durable.Status, error)
	RaiseEvent(ctx context.Context, instanceID, name string, payload any) error
}

// Finder locates the running session of a case.
type Finder interface {
	FindActiveInstanceForCase(ctx context.Context, caseNumber string) (*model.InstanceRecord, error)
}

// Config bounds how long requests wait for orchestrations to catch up.
type Config struct {
	StartTimeout       time.Duration
	PollInterval       time.Duration
	DeletePollInterval time.Duration
	DeletePollAttempts int
}

func DefaultConfig() Config {
	return Config{
		StartTimeout:       90 * time.Second,
		PollInterval:       500 * time.Millisecond,
		DeletePollInterval: time.Second,
		DeletePollAttempts: 30,
	}
}

// Service is the request-handling boundary of the session lifecycle.
type Service struct {
	client   Client
	finder   Finder
	identity IdentityFunc
	cfg      Config
	logger   zerolog.Logger
}

func New(client Client, finder Finder, identity IdentityFunc, cfg Config) *Service {
	d := DefaultConfig()
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = d.StartTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.DeletePollInterval <= 0 {
		cfg.DeletePollInterval = d.DeletePollInterval
	}
	if cfg.DeletePollAttempts <= 0 {
		cfg.DeletePollAttempts = d.DeletePollAttempts
	}
	if identity == nil {
		identity = ContextIdentity
	}
	return &Service{
		client:   client,
		finder:   finder,
		identity: identity,
		cfg:      cfg,
		logger:   xglog.WithComponent("session_service"),
	}
}

// GetOrCreate returns the running session for caseNumber, starting one when
// none exists. A session whose provisioning failed is returned together with
// ErrProvisioningFailure so the caller can still end it.
func (s *Service) GetOrCreate(ctx context.Context, caseNumber string) (*model.InstanceRecord, error) {
	if err := model.ValidateCaseNumber(caseNumber); err != nil {
		return nil, err
	}
	rec, err := s.finder.FindActiveInstanceForCase(ctx, caseNumber)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, provisioningError(rec)
	}

	userID, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}
	logger := xglog.WithContext(ctx, s.logger).With().
		Str(xglog.FieldCaseNumber, caseNumber).
		Str(xglog.FieldUserID, userID).
		Logger()

	id := model.SessionInstanceID(caseNumber)
	_, err = s.client.StartNew(ctx, model.OrchestratorSession, id, model.CaseSession{CaseNumber: caseNumber, UserID: userID})
	switch {
	case errors.Is(err, durable.ErrInstanceExists):
		logger.Debug().Str(xglog.FieldInstanceID, id).Msg("session already starting")
	case err != nil:
		return nil, fmt.Errorf("start session: %w", err)
	default:
		logger.Info().Str(xglog.FieldInstanceID, id).Msg("session started")
	}

	rec, err = s.awaitRecord(ctx, caseNumber, id)
	if err != nil {
		return nil, err
	}
	return rec, provisioningError(rec)
}

// awaitRecord polls the directory until the session publishes its state.
func (s *Service) awaitRecord(ctx context.Context, caseNumber, id string) (*model.InstanceRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		rec, err := s.finder.FindActiveInstanceForCase(ctx, caseNumber)
		if err != nil && ctx.Err() == nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}

		st, err := s.client.GetStatus(ctx, id)
		if err == nil && st.RuntimeStatus.IsTerminal() {
			return nil, fmt.Errorf("%w: session %s ended as %s: %s",
				model.ErrProvisioningFailure, id, st.RuntimeStatus, st.Failure)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: session %s not active after %s", model.ErrProvisioningFailure, id, s.cfg.StartTimeout)
		case <-ticker.C:
		}
	}
}

func provisioningError(rec *model.InstanceRecord) error {
	c := rec.LifecycleState.Compute
	if c == nil || c.Status != model.ComputeError {
		return nil
	}
	return fmt.Errorf("%w: %s", model.ErrProvisioningFailure, c.LastErrorMessage)
}

// Delete ends the running session for caseNumber and waits until it is gone.
func (s *Service) Delete(ctx context.Context, caseNumber string) error {
	if err := model.ValidateCaseNumber(caseNumber); err != nil {
		return err
	}
	rec, err := s.finder.FindActiveInstanceForCase(ctx, caseNumber)
	if err != nil {
		return err
	}
	if rec == nil {
		return model.ErrSessionNotFound
	}

	listener := model.ListenerInstanceID(rec.OrchestrationInstanceID)
	logger := xglog.WithContext(ctx, s.logger).With().
		Str(xglog.FieldCaseNumber, caseNumber).
		Str(xglog.FieldInstanceID, rec.OrchestrationInstanceID).
		Logger()

	baseline, _ := s.listenerStatus(ctx, listener)
	var handle model.ComputeHandle
	if rec.LifecycleState.Compute != nil {
		handle.Key = rec.LifecycleState.Compute.Key
	}
	if err := s.client.RaiseEvent(ctx, listener, model.EventEndSession, handle); err != nil {
		if !errors.Is(err, durable.ErrInstanceNotFound) {
			return fmt.Errorf("signal end of session: %w", err)
		}
		// The listener already ended; the session is about to complete.
		logger.Debug().Msg("event listener already gone")
	}
	logger.Info().Str(xglog.FieldComputeKey, handle.Key).Msg("end of session requested")

	ticker := time.NewTicker(s.cfg.DeletePollInterval)
	defer ticker.Stop()
	for attempt := 1; attempt <= s.cfg.DeletePollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		rec, err := s.finder.FindActiveInstanceForCase(ctx, caseNumber)
		if err != nil {
			return err
		}
		if rec == nil {
			logger.Info().Int("attempts", attempt).Msg("session ended")
			return nil
		}
		if st, ok := s.listenerStatus(ctx, listener); ok && st.DeprovisionFailures > baseline.DeprovisionFailures {
			logger.Error().Str("error", st.LastError).Msg("compute teardown failed")
			return fmt.Errorf("%w: %s", model.ErrDeprovisioningFailure, st.LastError)
		}
	}
	return fmt.Errorf("%w: %s after %d checks", model.ErrDeleteTimeout, caseNumber, s.cfg.DeletePollAttempts)
}

func (s *Service) listenerStatus(ctx context.Context, listener string) (model.ListenerStatus, bool) {
	var ls model.ListenerStatus
	st, err := s.client.GetStatus(ctx, listener)
	if err != nil {
		return ls, false
	}
	ok, err := st.DecodeCustomStatus(&ls)
	return ls, ok && err == nil
}

// AddCollaborator grants collaboratorUserID access to the running session.
func (s *Service) AddCollaborator(ctx context.Context, caseNumber, collaboratorUserID string) error {
	if err := model.ValidateCaseNumber(caseNumber); err != nil {
		return err
	}
	if collaboratorUserID == "" {
		return fmt.Errorf("%w: collaboratorUserId is required", model.ErrBadRequest)
	}
	rec, err := s.finder.FindActiveInstanceForCase(ctx, caseNumber)
	if err != nil {
		return err
	}
	if rec == nil {
		return model.ErrSessionNotFound
	}

	listener := model.ListenerInstanceID(rec.OrchestrationInstanceID)
	err = s.client.RaiseEvent(ctx, listener, model.EventAddCollaborator,
		model.CollaboratorRequest{CollaboratorUserID: collaboratorUserID})
	if errors.Is(err, durable.ErrInstanceNotFound) {
		return model.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("signal collaborator: %w", err)
	}
	logger := xglog.WithContext(ctx, s.logger)
	logger.Info().
		Str(xglog.FieldCaseNumber, caseNumber).
		Str(xglog.FieldUserID, collaboratorUserID).
		Msg("collaborator requested")
	return nil
}
