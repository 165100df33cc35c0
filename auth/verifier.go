package auth

import (
	"context"
	"fmt"
	"log/slog"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
)

// Verifier admits or refuses an inbound connection based on its presented
// credential. It must run to completion before any other component touches
// the connection: on failure the transport refuses the handshake outright.
type Verifier struct {
	codec *TokenCodec
	users contract.IUserRepository
	log   *slog.Logger
}

func NewVerifier(codec *TokenCodec, users contract.IUserRepository, log *slog.Logger) *Verifier {
	return &Verifier{codec: codec, users: users, log: log}
}

// Verify validates the token and resolves the claims to a live Identity,
// refreshed from the user directory.
func (v *Verifier) Verify(_ context.Context, token string) (domain.Identity, error) {
	if token == "" {
		v.log.Warn("Connection refused: no token in handshake")
		return domain.Identity{}, errors.ErrMissingToken
	}

	claims, err := v.codec.ValidateToken(token)
	if err != nil {
		v.log.Warn("Connection refused: token rejected", "err", err)
		return domain.Identity{}, fmt.Errorf("%w: %v", errors.ErrInvalidToken, err)
	}

	user, err := v.users.FindByID(claims.UserID)
	if err != nil {
		v.log.Warn("Connection refused: user not in directory", "user_id", claims.UserID)
		return domain.Identity{}, errors.ErrUnknownUser
	}

	v.log.Info("Connection authenticated", "user_id", user.ID, "name", user.Name)
	return user.Identity, nil
}
