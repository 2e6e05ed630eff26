package manager

import (
	"context"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
	"github.com/Gimmi17/Solanagram/internal/crypto"
	"github.com/Gimmi17/Solanagram/internal/database"
)

// Credentials is the in-memory plaintext view of a user's Telegram
// credentials. It never outlives the operation that resolved it.
type Credentials struct {
	UserID      int64
	Phone       string
	APIID       int
	APIHash     string
	SessionBlob []byte
}

// CredentialSource resolves credentials for a phone number.
type CredentialSource interface {
	CredentialsForPhone(ctx context.Context, phone string) (*Credentials, error)
}

// userStore is the slice of the persistence layer the credential source
// reads.
type userStore interface {
	GetUserByPhone(ctx context.Context, phone string) (*database.User, error)
}

// DBCredentialSource resolves credentials from the users table, unwrapping
// api_hash and the session blob with the credential store. When the user
// has no own credentials the platform-wide fallback pair applies.
type DBCredentialSource struct {
	users           userStore
	enc             *crypto.Encryptor
	fallbackAPIID   int
	fallbackAPIHash string
}

// NewDBCredentialSource builds the production credential source.
func NewDBCredentialSource(users userStore, enc *crypto.Encryptor, fallbackAPIID int, fallbackAPIHash string) *DBCredentialSource {
	return &DBCredentialSource{
		users:           users,
		enc:             enc,
		fallbackAPIID:   fallbackAPIID,
		fallbackAPIHash: fallbackAPIHash,
	}
}

// CredentialsForPhone implements CredentialSource.
func (s *DBCredentialSource) CredentialsForPhone(ctx context.Context, phone string) (*Credentials, error) {
	user, err := s.users.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}

	creds := &Credentials{
		UserID: user.ID,
		Phone:  user.Phone,
		APIID:  s.fallbackAPIID,
	}

	if user.APIID != 0 {
		creds.APIID = user.APIID
	}
	if len(user.APIHash) > 0 {
		hash, err := s.enc.UnwrapString(user.APIHash)
		if err != nil {
			return nil, err
		}
		creds.APIHash = hash
	} else {
		creds.APIHash = s.fallbackAPIHash
	}

	if creds.APIID == 0 || creds.APIHash == "" {
		return nil, apperrors.ErrMissingCredentials
	}

	if len(user.TelegramSession) > 0 {
		blob, err := s.enc.Unwrap(user.TelegramSession)
		if err != nil {
			return nil, err
		}
		creds.SessionBlob = blob
	}

	return creds, nil
}
