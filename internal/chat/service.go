package chat

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/gopherchat/gopherchat/internal/ai"
)

// CompletionGateway is what the orchestrator needs from the upstream side.
type CompletionGateway interface {
	Complete(ctx context.Context, messages []ai.Message, temperature float64, modelName string) (string, error)
}

// titleMaxChars bounds the session title derived from the first user message.
const titleMaxChars = 30

// Temperature choices offered to clients.
var TemperatureOptions = []float64{0.2, 0.7, 0.9}

type Service struct {
	repo    *Repo
	gateway CompletionGateway
}

func NewService(repo *Repo, gateway CompletionGateway) *Service {
	return &Service{repo: repo, gateway: gateway}
}

func (s *Service) CreateSession(ctx context.Context, userID uint64) (*Session, error) {
	session := &Session{
		ID:     uuid.NewString(),
		UserID: userID,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) ListSessions(ctx context.Context, userID uint64) ([]Session, error) {
	return s.repo.ListSessions(ctx, userID)
}

// History returns the visible conversation: regenerated answers are kept in
// the store for audit but never shown here.
func (s *Service) History(ctx context.Context, userID uint64, sessionID string) ([]Message, error) {
	if _, err := s.repo.GetSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, sessionID)
}

func (s *Service) DeleteSession(ctx context.Context, userID uint64, sessionID string) error {
	return s.repo.DeleteSession(ctx, sessionID, userID)
}

// SendMessage runs one exchange: bounded context in, one user/ai pair out.
// Exactly one request may be in flight per session; the guard is released on
// every exit path.
func (s *Service) SendMessage(ctx context.Context, userID uint64, sessionID, userText, modelName string, temperature float64) (reply string, assistantMsgID uint64, err error) {
	if strings.TrimSpace(userText) == "" {
		return "", 0, ErrInvalidInput
	}
	if math.IsNaN(temperature) || math.IsInf(temperature, 0) {
		return "", 0, ErrInvalidInput
	}

	session, err := s.repo.GetSession(ctx, sessionID, userID)
	if err != nil {
		return "", 0, err
	}

	if err := s.repo.AcquireProcessing(ctx, sessionID, userID); err != nil {
		return "", 0, err
	}
	defer s.release(ctx, sessionID)

	recentDesc, err := s.repo.RecentMessages(ctx, sessionID, true, ContextWindowSize)
	if err != nil {
		return "", 0, err
	}

	reply, err = s.gateway.Complete(ctx, BuildContext(recentDesc, userText), temperature, modelName)
	if err != nil {
		return "", 0, err
	}

	userMsg := &Message{
		SessionID:   sessionID,
		Role:        RoleUser,
		Content:     userText,
		Model:       modelName,
		Temperature: temperature,
	}
	aiMsg := &Message{
		SessionID:   sessionID,
		Role:        RoleAI,
		Content:     reply,
		Model:       modelName,
		Temperature: temperature,
	}

	var title string
	if session.Title == "" {
		title = truncateTitle(userText)
	}
	if err := s.repo.AppendExchange(ctx, userMsg, aiMsg, title); err != nil {
		return "", 0, err
	}

	return reply, aiMsg.ID, nil
}

// RegenerateLast supersedes the newest ai answer and produces a fresh one
// from the same prompt, reusing the original exchange's model and
// temperature. The superseded message is marked regenerated up front and the
// mark is kept even when the upstream call afterwards fails.
func (s *Service) RegenerateLast(ctx context.Context, userID uint64, sessionID string) (reply string, assistantMsgID uint64, err error) {
	if _, err := s.repo.GetSession(ctx, sessionID, userID); err != nil {
		return "", 0, err
	}

	if err := s.repo.AcquireProcessing(ctx, sessionID, userID); err != nil {
		return "", 0, err
	}
	defer s.release(ctx, sessionID)

	last, err := s.repo.LatestAssistantMessage(ctx, sessionID)
	if err != nil {
		return "", 0, err
	}
	if err := s.repo.MarkRegenerated(ctx, last.ID); err != nil {
		return "", 0, err
	}

	recentDesc, err := s.repo.RecentMessages(ctx, sessionID, true, ContextWindowSize)
	if err != nil {
		return "", 0, err
	}
	msgs, prompt, err := BuildRegenContext(recentDesc)
	if err != nil {
		return "", 0, err
	}

	reply, err = s.gateway.Complete(ctx, msgs, prompt.Temperature, prompt.Model)
	if err != nil {
		return "", 0, err
	}

	aiMsg := &Message{
		SessionID:   sessionID,
		Role:        RoleAI,
		Content:     reply,
		Model:       prompt.Model,
		Temperature: prompt.Temperature,
	}
	if err := s.repo.InsertMessage(ctx, aiMsg); err != nil {
		return "", 0, err
	}
	return reply, aiMsg.ID, nil
}

// release must run even when the request context is already canceled.
func (s *Service) release(ctx context.Context, sessionID string) {
	_ = s.repo.ReleaseProcessing(context.WithoutCancel(ctx), sessionID)
}

func truncateTitle(text string) string {
	runes := []rune(text)
	if len(runes) > titleMaxChars {
		runes = runes[:titleMaxChars]
	}
	return string(runes)
}

// Job plumbing used by the async send path.

func (s *Service) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	return s.repo.CreateJobOrGetExisting(ctx, job)
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.GetJobByID(ctx, jobID)
}

// RunJob executes a queued job through the normal send path and records the
// outcome on the job row.
func (s *Service) RunJob(ctx context.Context, job *Job) error {
	if err := s.repo.UpdateJobStatusRunning(ctx, job.ID); err != nil {
		return err
	}
	_, msgID, err := s.SendMessage(ctx, job.UserID, job.SessionID, job.Prompt, job.Model, job.Temperature)
	if err != nil {
		// A busy session is retried by the caller, not a terminal failure.
		if !errors.Is(err, ErrAlreadyProcessing) {
			if markErr := s.repo.MarkJobFailed(ctx, job.ID, err.Error()); markErr != nil {
				return markErr
			}
		}
		return err
	}
	return s.repo.MarkJobSucceeded(ctx, job.ID, msgID)
}

// ValidateSessionOwner is used by the async handler before enqueueing.
func (s *Service) ValidateSessionOwner(ctx context.Context, userID uint64, sessionID string) error {
	_, err := s.repo.GetSession(ctx, sessionID, userID)
	return err
}
