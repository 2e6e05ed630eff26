package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
	"github.com/Gimmi17/Solanagram/internal/database"
	"github.com/Gimmi17/Solanagram/internal/manager"
)

// Container label keys.
const (
	LabelType      = "solanagram.type"
	LabelUserID    = "solanagram.user_id"
	LabelSessionID = "solanagram.session_id"
)

// Worker types, also used in container names.
const (
	TypeLogger    = "logger"
	TypeListener  = "listener"
	TypeForwarder = "forwarder"
)

// Store is the slice of the persistence layer the supervisor drives.
type Store interface {
	ReserveLoggingSession(ctx context.Context, userID, chatID int64, title, username, chatType, containerName string) (*database.LoggingSession, error)
	MarkLoggingSessionRunning(ctx context.Context, sessionID int64, containerID string) error
	MarkLoggingSessionStopped(ctx context.Context, sessionID int64) error
	MarkLoggingSessionError(ctx context.Context, sessionID int64, lastError string) error
	DeleteLoggingSession(ctx context.Context, sessionID int64) error
	GetLoggingSession(ctx context.Context, sessionID, userID int64) (*database.LoggingSession, error)
	ListRunningLoggingSessions(ctx context.Context) ([]database.LoggingSession, error)

	CreateListener(ctx context.Context, userID, sourceChatID int64, title, username, chatType, containerName string) (*database.Listener, error)
	MarkListenerRunning(ctx context.Context, listenerID int64, containerID string) error
	MarkListenerStopped(ctx context.Context, listenerID int64) error
	MarkListenerError(ctx context.Context, listenerID int64, lastError string) error
	DeleteListener(ctx context.Context, listenerID, userID int64) error
	GetListener(ctx context.Context, listenerID, userID int64) (*database.Listener, error)
	ListRunningListeners(ctx context.Context) ([]database.Listener, error)
	ListElaborations(ctx context.Context, listenerID int64) ([]database.Elaboration, error)
}

// Config carries the supervisor's deployment parameters.
type Config struct {
	ProjectName    string
	ConfigsPath    string
	DatabaseDSN    string
	LoggerImage    string
	ForwarderImage string
	StopGrace      time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ProjectName == "" {
		out.ProjectName = "solanagram"
	}
	if out.StopGrace <= 0 {
		out.StopGrace = 10 * time.Second
	}
	return out
}

// ChatRef identifies the chat a worker attaches to.
type ChatRef struct {
	ChatID   int64
	Title    string
	Username string
	Type     string
}

// Supervisor creates, tracks and reaps the per-chat worker containers.
// One in-flight start/stop per container name; the database rows hold the
// durable state, containers are disposable.
type Supervisor struct {
	store   Store
	runtime Runtime
	creds   manager.CredentialSource
	cfg     Config
	log     *zap.Logger

	mu        sync.Mutex
	nameLocks map[string]*sync.Mutex
}

// New creates a supervisor.
func New(store Store, runtime Runtime, creds manager.CredentialSource, cfg Config, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		store:     store,
		runtime:   runtime,
		creds:     creds,
		cfg:       cfg.withDefaults(),
		log:       log,
		nameLocks: make(map[string]*sync.Mutex),
	}
}

// lockName serializes runtime operations per container name.
func (s *Supervisor) lockName(name string) (unlock func()) {
	s.mu.Lock()
	lock, ok := s.nameLocks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.nameLocks[name] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// LoggerContainerName builds the deterministic name of a logging worker.
func (s *Supervisor) LoggerContainerName(userID, chatID int64) string {
	return fmt.Sprintf("%s-log-%d-%s", s.cfg.ProjectName, userID, sanitizeChatID(chatID))
}

// ForwarderContainerName builds the deterministic name of a listener
// worker.
func (s *Supervisor) ForwarderContainerName(userID, chatID int64) string {
	return fmt.Sprintf("%s-fwd-%d-%s", s.cfg.ProjectName, userID, sanitizeChatID(chatID))
}

// sanitizeChatID renders a chat id safe for a container name: the sign is
// dropped, anything else is numeric already.
func sanitizeChatID(chatID int64) string {
	return strings.TrimPrefix(fmt.Sprintf("%d", chatID), "-")
}

// StartLogging reserves the session row, materializes the worker bundle
// and launches the logging container. Any failure before a successful
// launch rolls the reservation back and wipes the bundle.
func (s *Supervisor) StartLogging(ctx context.Context, userID int64, phone string, chat ChatRef) (*database.LoggingSession, error) {
	name := s.LoggerContainerName(userID, chat.ChatID)
	unlock := s.lockName(name)
	defer unlock()

	creds, err := s.creds.CredentialsForPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if len(creds.SessionBlob) == 0 {
		return nil, apperrors.ErrAuthorizationLost
	}

	session, err := s.store.ReserveLoggingSession(ctx, userID, chat.ChatID, chat.Title, chat.Username, chat.Type, name)
	if err != nil {
		return nil, err
	}

	containerID, err := s.launchWorker(ctx, name, s.cfg.LoggerImage, TypeLogger, session.ID, &Bundle{
		Config: WorkerConfig{
			Type:        TypeLogger,
			UserID:      userID,
			SessionID:   session.ID,
			Phone:       phone,
			APIID:       creds.APIID,
			ChatID:      chat.ChatID,
			DatabaseDSN: s.cfg.DatabaseDSN,
		},
		APIHash:     creds.APIHash,
		SessionBlob: creds.SessionBlob,
	})
	if err != nil {
		if delErr := s.store.DeleteLoggingSession(ctx, session.ID); delErr != nil {
			s.log.Error("failed to roll back session reservation", zap.Int64("session_id", session.ID), zap.Error(delErr))
		}
		return nil, err
	}

	if err := s.store.MarkLoggingSessionRunning(ctx, session.ID, containerID); err != nil {
		return nil, err
	}

	session.ContainerID = containerID
	session.ContainerStatus = database.StatusRunning
	s.log.Info("logging worker started",
		zap.Int64("user_id", userID), zap.Int64("chat_id", chat.ChatID), zap.String("container", name))
	return session, nil
}

// StopLogging terminates the worker of a session and marks the row
// stopped. Stopping an already stopped session is a no-op success.
func (s *Supervisor) StopLogging(ctx context.Context, sessionID, userID int64) error {
	session, err := s.store.GetLoggingSession(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !session.IsActive && session.ContainerStatus != database.StatusRunning {
		return nil
	}

	unlock := s.lockName(session.ContainerName)
	defer unlock()

	s.teardownContainer(ctx, session.ContainerName)
	if err := s.store.MarkLoggingSessionStopped(ctx, sessionID); err != nil {
		return err
	}

	s.log.Info("logging worker stopped", zap.Int64("session_id", sessionID), zap.String("container", session.ContainerName))
	return nil
}

// RemoveLogging stops the worker and deletes the session row entirely.
func (s *Supervisor) RemoveLogging(ctx context.Context, sessionID, userID int64) error {
	if err := s.StopLogging(ctx, sessionID, userID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return s.store.DeleteLoggingSession(ctx, sessionID)
}

// StartListener creates the listener row, ships the ordered elaboration
// list in the bundle and launches the forwarder container.
func (s *Supervisor) StartListener(ctx context.Context, userID int64, phone string, chat ChatRef, targetChat int64) (*database.Listener, error) {
	name := s.ForwarderContainerName(userID, chat.ChatID)
	unlock := s.lockName(name)
	defer unlock()

	creds, err := s.creds.CredentialsForPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if len(creds.SessionBlob) == 0 {
		return nil, apperrors.ErrAuthorizationLost
	}

	listener, err := s.store.CreateListener(ctx, userID, chat.ChatID, chat.Title, chat.Username, chat.Type, name)
	if err != nil {
		return nil, err
	}

	rules, err := s.elaborationConfigs(ctx, listener.ID)
	if err != nil {
		return nil, err
	}

	containerID, err := s.launchWorker(ctx, name, s.cfg.ForwarderImage, TypeListener, listener.ID, &Bundle{
		Config: WorkerConfig{
			Type:        TypeListener,
			UserID:      userID,
			SessionID:   listener.ID,
			Phone:       phone,
			APIID:       creds.APIID,
			ChatID:      chat.ChatID,
			TargetChat:  targetChat,
			DatabaseDSN: s.cfg.DatabaseDSN,
			Rules:       rules,
		},
		APIHash:     creds.APIHash,
		SessionBlob: creds.SessionBlob,
	})
	if err != nil {
		if delErr := s.store.DeleteListener(ctx, listener.ID, userID); delErr != nil {
			s.log.Error("failed to roll back listener", zap.Int64("listener_id", listener.ID), zap.Error(delErr))
		}
		return nil, err
	}

	if err := s.store.MarkListenerRunning(ctx, listener.ID, containerID); err != nil {
		return nil, err
	}

	listener.ContainerID = containerID
	listener.ContainerStatus = database.StatusRunning
	s.log.Info("listener worker started",
		zap.Int64("user_id", userID), zap.Int64("chat_id", chat.ChatID), zap.String("container", name))
	return listener, nil
}

// RestartListener relaunches the worker of an existing listener row, e.g.
// after its elaborations changed.
func (s *Supervisor) RestartListener(ctx context.Context, listenerID, userID int64, phone string) (*database.Listener, error) {
	listener, err := s.store.GetListener(ctx, listenerID, userID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockName(listener.ContainerName)
	defer unlock()

	creds, err := s.creds.CredentialsForPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if len(creds.SessionBlob) == 0 {
		return nil, apperrors.ErrAuthorizationLost
	}

	s.teardownContainer(ctx, listener.ContainerName)

	rules, err := s.elaborationConfigs(ctx, listener.ID)
	if err != nil {
		return nil, err
	}

	targetChat := int64(0)
	for _, rule := range rules {
		if rule.Type == database.ElaborationRedirect {
			targetChat = redirectTarget(rule.Config)
		}
	}

	containerID, err := s.launchWorker(ctx, listener.ContainerName, s.cfg.ForwarderImage, TypeListener, listener.ID, &Bundle{
		Config: WorkerConfig{
			Type:        TypeListener,
			UserID:      userID,
			SessionID:   listener.ID,
			Phone:       phone,
			APIID:       creds.APIID,
			ChatID:      listener.SourceChatID,
			TargetChat:  targetChat,
			DatabaseDSN: s.cfg.DatabaseDSN,
			Rules:       rules,
		},
		APIHash:     creds.APIHash,
		SessionBlob: creds.SessionBlob,
	})
	if err != nil {
		if markErr := s.store.MarkListenerError(ctx, listener.ID, err.Error()); markErr != nil {
			s.log.Error("failed to mark listener error", zap.Int64("listener_id", listener.ID), zap.Error(markErr))
		}
		return nil, err
	}

	if err := s.store.MarkListenerRunning(ctx, listener.ID, containerID); err != nil {
		return nil, err
	}
	listener.ContainerID = containerID
	listener.ContainerStatus = database.StatusRunning
	return listener, nil
}

// StopListener terminates a listener worker. Idempotent.
func (s *Supervisor) StopListener(ctx context.Context, listenerID, userID int64) error {
	listener, err := s.store.GetListener(ctx, listenerID, userID)
	if err != nil {
		return err
	}
	if !listener.IsActive && listener.ContainerStatus != database.StatusRunning {
		return nil
	}

	unlock := s.lockName(listener.ContainerName)
	defer unlock()

	s.teardownContainer(ctx, listener.ContainerName)
	if err := s.store.MarkListenerStopped(ctx, listenerID); err != nil {
		return err
	}

	s.log.Info("listener worker stopped", zap.Int64("listener_id", listenerID), zap.String("container", listener.ContainerName))
	return nil
}

// RemoveListener stops the worker and deletes the listener row, cascading
// to its elaborations and saved messages.
func (s *Supervisor) RemoveListener(ctx context.Context, listenerID, userID int64) error {
	if err := s.StopListener(ctx, listenerID, userID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return s.store.DeleteListener(ctx, listenerID, userID)
}

// Reap cross-checks every running row against actual container presence
// and moves vanished or exited workers to error. Invoked every minute by
// the cleanup scheduler.
func (s *Supervisor) Reap(ctx context.Context) {
	sessions, err := s.store.ListRunningLoggingSessions(ctx)
	if err != nil {
		s.log.Error("reap: failed to list running sessions", zap.Error(err))
	} else {
		for _, session := range sessions {
			if reason, dead := s.checkWorker(ctx, session.ContainerName); dead {
				s.log.Warn("reaping dead logging worker",
					zap.Int64("session_id", session.ID), zap.String("container", session.ContainerName), zap.String("reason", reason))
				if err := s.store.MarkLoggingSessionError(ctx, session.ID, reason); err != nil {
					s.log.Error("reap: failed to mark session error", zap.Int64("session_id", session.ID), zap.Error(err))
				}
				wipeBundle(s.bundleDir(session.ContainerName))
			}
		}
	}

	listeners, err := s.store.ListRunningListeners(ctx)
	if err != nil {
		s.log.Error("reap: failed to list running listeners", zap.Error(err))
		return
	}
	for _, listener := range listeners {
		if reason, dead := s.checkWorker(ctx, listener.ContainerName); dead {
			s.log.Warn("reaping dead listener worker",
				zap.Int64("listener_id", listener.ID), zap.String("container", listener.ContainerName), zap.String("reason", reason))
			if err := s.store.MarkListenerError(ctx, listener.ID, reason); err != nil {
				s.log.Error("reap: failed to mark listener error", zap.Int64("listener_id", listener.ID), zap.Error(err))
			}
			wipeBundle(s.bundleDir(listener.ContainerName))
		}
	}
}

// checkWorker reports whether the named container is gone or exited.
func (s *Supervisor) checkWorker(ctx context.Context, name string) (reason string, dead bool) {
	state, err := s.runtime.Inspect(ctx, name)
	if err != nil {
		// Transient daemon trouble is not evidence the worker died.
		s.log.Warn("reap: inspect failed", zap.String("container", name), zap.Error(err))
		return "", false
	}
	if state == nil {
		return "container vanished", true
	}
	if !state.Running {
		return fmt.Sprintf("container exited (%s)", state.Status), true
	}
	return "", false
}

// launchWorker materializes the bundle and launches the container,
// cleaning up on failure.
func (s *Supervisor) launchWorker(ctx context.Context, name, image, workerType string, sessionID int64, bundle *Bundle) (string, error) {
	bundlePath, err := materializeBundle(s.cfg.ConfigsPath, name, bundle)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrContainerLaunchFailed, err)
	}

	containerID, err := s.runtime.Launch(ctx, ContainerSpec{
		Name:  name,
		Image: image,
		Labels: map[string]string{
			LabelType:      workerType,
			LabelUserID:    fmt.Sprintf("%d", bundle.Config.UserID),
			LabelSessionID: fmt.Sprintf("%d", sessionID),
		},
		BundlePath: bundlePath,
	})
	if err != nil {
		wipeBundle(bundlePath)
		return "", apperrors.Wrap(apperrors.ErrContainerLaunchFailed, err)
	}
	return containerID, nil
}

// teardownContainer stops, force-removes and wipes the bundle of the named
// worker, tolerating absence at every step.
func (s *Supervisor) teardownContainer(ctx context.Context, name string) {
	if name == "" {
		return
	}
	if err := s.runtime.Stop(ctx, name, s.cfg.StopGrace); err != nil {
		s.log.Warn("failed to stop container", zap.String("container", name), zap.Error(err))
	}
	if err := s.runtime.Remove(ctx, name); err != nil {
		s.log.Warn("failed to remove container", zap.String("container", name), zap.Error(err))
	}
	wipeBundle(s.bundleDir(name))
}

func (s *Supervisor) bundleDir(name string) string {
	return s.cfg.ConfigsPath + "/" + name
}

func (s *Supervisor) elaborationConfigs(ctx context.Context, listenerID int64) ([]ElaborationConfig, error) {
	elaborations, err := s.store.ListElaborations(ctx, listenerID)
	if err != nil {
		return nil, err
	}
	rules := make([]ElaborationConfig, 0, len(elaborations))
	for _, e := range elaborations {
		if !e.IsActive {
			continue
		}
		rules = append(rules, ElaborationConfig{
			ID:       e.ID,
			Type:     e.Type,
			Name:     e.Name,
			Priority: e.Priority,
			Config:   e.Config,
		})
	}
	return rules, nil
}

// redirectTarget extracts the destination chat id from a redirect rule's
// config.
func redirectTarget(raw []byte) int64 {
	var cfg struct {
		TargetChatID int64 `json:"target_chat_id"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return 0
	}
	return cfg.TargetChatID
}
