package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// GrantClientCredentials is the only grant type the issuer accepts.
const GrantClientCredentials = "client_credentials"

// Reasons attached to ErrInvalidClient; see FailureReason.
const (
	IssueReasonMalformedID   = "malformed_client_id"
	IssueReasonUnknownClient = "unknown_client"
	IssueReasonInactive      = "inactive_client"
	IssueReasonBadSecret     = "bad_secret"
)

type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenIssuer implements the client_credentials grant. Tokens are never
// persisted.
type TokenIssuer struct {
	clients ClientStore
	caps    CapabilityStore
	signer  *Signer
	params  Argon2Params

	dummyOnce sync.Once
	dummyHash string
}

// IssuerOption configures a TokenIssuer.
type IssuerOption func(*TokenIssuer)

// WithIssuerHashParams sets the argon2id cost of the decoy verification run
// for unknown clients. It should match the cost of stored hashes.
func WithIssuerHashParams(p Argon2Params) IssuerOption {
	return func(i *TokenIssuer) {
		i.params = p
	}
}

func NewTokenIssuer(clients ClientStore, caps CapabilityStore, signer *Signer, opts ...IssuerOption) *TokenIssuer {
	i := &TokenIssuer{
		clients: clients,
		caps:    caps,
		signer:  signer,
		params:  DefaultArgon2Params,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i
}

// Issue authenticates the client and returns a signed access token. Every
// credential failure is the same ErrInvalidClient; the cause is available
// through FailureReason.
func (i *TokenIssuer) Issue(ctx context.Context, req TokenRequest) (TokenResponse, error) {
	if req.GrantType != GrantClientCredentials {
		return TokenResponse{}, fmt.Errorf("%w: %q", ErrUnsupportedGrant, req.GrantType)
	}

	id, err := uuid.Parse(strings.TrimSpace(req.ClientID))
	if err != nil {
		i.decoyVerify(req.ClientSecret)
		return TokenResponse{}, withReason(ErrInvalidClient, IssueReasonMalformedID)
	}
	clientID := id.String()

	client, err := i.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			i.decoyVerify(req.ClientSecret)
			return TokenResponse{}, withReason(ErrInvalidClient, IssueReasonUnknownClient)
		}
		return TokenResponse{}, fmt.Errorf("%w: load client: %v", ErrUnavailable, err)
	}
	secretOK := VerifySecret(req.ClientSecret, client.SecretHash)
	if !client.Active {
		return TokenResponse{}, withReason(ErrInvalidClient, IssueReasonInactive)
	}
	if !secretOK {
		return TokenResponse{}, withReason(ErrInvalidClient, IssueReasonBadSecret)
	}
	if i.params.NeedsRehash(client.SecretHash) {
		i.upgradeHash(ctx, clientID, req.ClientSecret)
	}

	caps, err := i.caps.ClientCapabilities(ctx, clientID)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("%w: resolve capabilities: %v", ErrUnavailable, err)
	}

	token, _, err := i.signer.Sign(clientID, caps)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(i.signer.TTL().Seconds()),
	}, nil
}

// upgradeHash replaces a bcrypt or weaker argon2id hash with one made at the
// current cost. A failed upgrade is retried on the next successful login.
func (i *TokenIssuer) upgradeHash(ctx context.Context, clientID, secret string) {
	hash, err := i.params.Hash(secret)
	if err != nil {
		return
	}
	_ = i.clients.UpdateClientSecret(ctx, clientID, hash)
}

// decoyVerify spends the same hashing work as a real verification so that
// response time does not reveal whether a client exists.
func (i *TokenIssuer) decoyVerify(secret string) {
	i.dummyOnce.Do(func() {
		hash, err := i.params.Hash("decoy")
		if err == nil {
			i.dummyHash = hash
		}
	})
	if i.dummyHash != "" {
		_ = VerifySecret(secret, i.dummyHash)
	}
}
