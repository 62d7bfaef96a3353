package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/storage"
)

const (
	anonymousTopicPrefix = "Anonymous Chat - "
	mailTimeout          = 30 * time.Second
	abandonTimeout       = 5 * time.Second
)

// ReceiptMailer confirms an intake to the visitor's address. email.Sender implements it.
type ReceiptMailer interface {
	SendIntakeReceipt(ctx context.Context, to, name, sessionID, issue string) error
}

// Intake opens sessions for visitors without a principal.
type Intake struct {
	store   storage.ChatStore
	roster  Roster
	channel *Channel
	mailer  ReceiptMailer
}

func NewIntake(store storage.ChatStore, roster Roster, channel *Channel) *Intake {
	return &Intake{store: store, roster: roster, channel: channel}
}

// WithReceipts makes Start mail a best-effort receipt after the session is open.
func (i *Intake) WithReceipts(m ReceiptMailer) *Intake {
	i.mailer = m
	return i
}

// Start creates a new anonymous session and posts the intake summary as a system message.
// Every call creates a session; there is no visitor identity to reuse one by.
func (i *Intake) Start(ctx context.Context, name, email, issue string) (string, error) {
	profile, err := normalizeIntake(name, email, issue)
	if err != nil {
		return "", err
	}
	s := &model.ChatSession{
		OwnerID:          model.AnonymousOwnerID,
		AnonymousProfile: profile,
		Status:           model.SessionStatusActive,
		Admins:           snapshotAdmins(ctx, i.roster, "IntakeStart"),
		Topic:            anonymousTopicPrefix + profile.Issue,
	}
	if err := i.store.CreateSession(ctx, s); err != nil {
		logger.Errorf("%s create: %v", logger.Op("IntakeStart", ""), err)
		return "", err
	}
	_, err = i.channel.Append(ctx, AppendInput{
		SessionID:  s.ID,
		SenderID:   model.SystemSenderID,
		SenderRole: model.SenderRoleSystem,
		Text:       intakeSummary(profile),
	})
	if err != nil {
		i.abandon(s.ID, err)
		return "", err
	}
	logger.Infof("%s admins=%d started", logger.Op("IntakeStart", s.ID), len(s.Admins))
	if i.mailer != nil {
		go i.sendReceipt(s.ID, profile)
	}
	return s.ID, nil
}

// abandon closes a session whose summary could not be posted so it does not linger as active.
func (i *Intake) abandon(sessionID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), abandonTimeout)
	defer cancel()
	err := i.store.UpdateStatus(ctx, sessionID, model.SessionStatusActive, model.SessionStatusClosed)
	if err != nil {
		logger.Errorf("%s orphaned session left active (summary: %v): close: %v", logger.Op("IntakeStart", sessionID), cause, err)
		return
	}
	logger.Warnf("%s summary failed, session closed: %v", logger.Op("IntakeStart", sessionID), cause)
}

func (i *Intake) sendReceipt(sessionID string, p *model.AnonymousProfile) {
	ctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
	defer cancel()
	if err := i.mailer.SendIntakeReceipt(ctx, p.Email, p.Name, sessionID, p.Issue); err != nil {
		logger.Warnf("%s receipt: %v", logger.Op("IntakeStart", sessionID), err)
	}
}

func normalizeIntake(name, email, issue string) (*model.AnonymousProfile, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	issue = strings.TrimSpace(issue)
	if name == "" || email == "" {
		return nil, fmt.Errorf("%w: name and email are required", ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return nil, fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	if issue == "" {
		issue = model.DefaultTopic
	}
	return &model.AnonymousProfile{Name: name, Email: email, Issue: issue}, nil
}

func intakeSummary(p *model.AnonymousProfile) string {
	return fmt.Sprintf("Anonymous chat started.\nName: %s\nEmail: %s\nIssue: %s", p.Name, p.Email, p.Issue)
}
