package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AppError is the error type every layer of the orchestrator surfaces.
// Code is the HTTP status, ErrorCode the stable machine-readable code for
// clients, Message the Italian user-facing text. Err carries the internal
// cause and never reaches the response body.
type AppError struct {
	Code      int    `json:"-"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message"`
	Err       error  `json:"-"`

	// RetryAfter is set for flood-wait errors.
	RetryAfter time.Duration `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code: %d, error_code: %s, message: %s, internal: %v", e.Code, e.ErrorCode, e.Message, e.Err)
	}
	return fmt.Sprintf("code: %d, error_code: %s, message: %s", e.Code, e.ErrorCode, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on the stable error code so wrapped copies of a sentinel
// compare equal to the sentinel itself.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.ErrorCode == t.ErrorCode
}

func New(code int, errorCode, message string) *AppError {
	return &AppError{Code: code, ErrorCode: errorCode, Message: message}
}

// Wrap returns a copy of e carrying err as the internal cause.
func Wrap(e *AppError, err error) *AppError {
	clone := *e
	clone.Err = err
	return &clone
}

// NewFloodWait builds a rate-limit error carrying the Telegram cool-down.
func NewFloodWait(retryAfter time.Duration) *AppError {
	return &AppError{
		Code:       http.StatusTooManyRequests,
		ErrorCode:  "FLOOD_WAIT",
		Message:    "Troppe richieste a Telegram, riprova più tardi",
		RetryAfter: retryAfter,
	}
}

// ErrFloodWait is the sentinel for errors.Is checks; concrete flood-wait
// errors built by NewFloodWait carry the actual cool-down.
var ErrFloodWait = NewFloodWait(0)

// Predefined errors, grouped by the taxonomy of the error design.
var (
	// Validation
	ErrBadRequest   = New(http.StatusBadRequest, "BAD_REQUEST", "Richiesta non valida")
	ErrValidation   = New(http.StatusBadRequest, "VALIDATION_ERROR", "Dati non validi")
	ErrInvalidPhone = New(http.StatusBadRequest, "INVALID_PHONE", "Numero di telefono non valido")

	// Authentication
	ErrUnauthorized      = New(http.StatusUnauthorized, "UNAUTHORIZED", "Autenticazione richiesta")
	ErrInvalidToken      = New(http.StatusUnauthorized, "INVALID_TOKEN", "Token non valido")
	ErrTokenExpired      = New(http.StatusUnauthorized, "TOKEN_EXPIRED", "Sessione scaduta, effettua di nuovo il login")
	ErrInvalidPassword   = New(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Credenziali non valide")
	ErrUnknownUser       = New(http.StatusNotFound, "UNKNOWN_USER", "Utente non trovato")
	ErrAuthorizationLost = New(http.StatusUnauthorized, "TELEGRAM_SESSION_EXPIRED", "La sessione Telegram è scaduta, effettua di nuovo l'accesso")

	// Credentials
	ErrMissingCredentials = New(http.StatusBadRequest, "API_CREDENTIALS_NOT_SET", "Credenziali API Telegram non configurate")
	ErrCredentialsInvalid = New(http.StatusBadRequest, "API_CREDENTIALS_INVALID", "Credenziali API Telegram non valide")
	ErrCredentialDecrypt  = New(http.StatusInternalServerError, "CREDENTIAL_DECRYPT_ERROR", "Impossibile decifrare le credenziali")

	// Telegram transport
	ErrTransportDisconnected = New(http.StatusServiceUnavailable, "TELEGRAM_DISCONNECTED", "Connessione a Telegram interrotta")
	ErrConnectUnavailable    = New(http.StatusServiceUnavailable, "TELEGRAM_UNAVAILABLE", "Impossibile connettersi a Telegram, riprova più tardi")

	// Telegram protocol
	ErrCodeInvalid     = New(http.StatusBadRequest, "CODE_INVALID", "Codice di verifica errato")
	ErrCodeExpired     = New(http.StatusBadRequest, "CODE_EXPIRED", "Codice di verifica scaduto, richiedine uno nuovo")
	ErrNeeds2FA        = New(http.StatusUnauthorized, "2FA_REQUIRED", "È richiesta la password di verifica in due passaggi")
	ErrPasswordInvalid = New(http.StatusUnauthorized, "2FA_PASSWORD_INVALID", "Password di verifica in due passaggi errata")
	ErrNoPendingCode   = New(http.StatusBadRequest, "NO_PENDING_CODE", "Nessun codice in attesa di verifica, richiedine uno nuovo")
	ErrSendCodeFailed  = New(http.StatusBadGateway, "SEND_CODE_FAILED", "Invio del codice di verifica non riuscito")
	ErrTelegram        = New(http.StatusBadGateway, "TELEGRAM_ERROR", "Errore di Telegram")

	// Conflict
	ErrAlreadyActive  = New(http.StatusConflict, "ALREADY_ACTIVE", "Esiste già una sessione attiva per questa chat")
	ErrDuplicateUser  = New(http.StatusConflict, "USER_EXISTS", "Utente già registrato")
	ErrRedirectExists = New(http.StatusConflict, "REDIRECT_EXISTS", "Esiste già un inoltro per questo listener")

	// Resource
	ErrSystemBusy            = New(http.StatusServiceUnavailable, "SYSTEM_BUSY", "Sistema occupato, riprova tra qualche istante")
	ErrContainerLaunchFailed = New(http.StatusInternalServerError, "CONTAINER_LAUNCH_FAILED", "Avvio del worker non riuscito")
	ErrContainerVanished     = New(http.StatusInternalServerError, "CONTAINER_VANISHED", "Il worker non è più in esecuzione")

	// Not found
	ErrNotFound = New(http.StatusNotFound, "NOT_FOUND", "Risorsa non trovata")

	// Internal
	ErrInternal = New(http.StatusInternalServerError, "INTERNAL_ERROR", "Errore interno del server")
)

// AsAppError extracts an *AppError from err, or wraps err into ErrInternal.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(ErrInternal, err)
}
