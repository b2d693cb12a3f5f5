package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
)

// ChallengeMessage is the fixed string a wallet signs to prove key
// ownership. It is a constant on purpose: it must never be derived from
// client input.
const ChallengeMessage = "Login to LAN-Chat"

var (
	ErrMalformedInput   = errors.New("malformed address or signature")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidToken     = errors.New("invalid token")
)

// Authenticator verifies wallet signatures over the fixed challenge and
// issues short-lived signed tokens for verified addresses.
type Authenticator struct {
	secret   []byte
	tokenTTL time.Duration
}

// New creates an Authenticator. The secret comes from deployment
// configuration; it is never defaulted here.
func New(secret []byte, tokenTTL time.Duration) *Authenticator {
	return &Authenticator{secret: secret, tokenTTL: tokenTTL}
}

// Claims binds a verified wallet address to a standard expiring token.
type Claims struct {
	jwt.RegisteredClaims
	Address string `json:"address"`
}

// Verify recovers the signer of the challenge message from signature and
// compares it, case-insensitively, against the claimed address. On
// success it returns a signed token and the canonical form of the
// address. Verification is pure: the same inputs always yield the same
// verdict.
func (a *Authenticator) Verify(address, signature string) (token string, canonical string, err error) {
	if !common.IsHexAddress(address) {
		return "", "", ErrMalformedInput
	}

	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return "", "", ErrMalformedInput
	}

	// personal_sign encodes the recovery id as 27/28; SigToPub wants 0/1.
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(challengeHash(), sig)
	if err != nil {
		return "", "", fmt.Errorf("signature recovery: %w", err)
	}

	signer := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(signer.Hex(), address) {
		return "", "", ErrInvalidSignature
	}

	token, err = a.issueToken(signer.Hex())
	if err != nil {
		return "", "", fmt.Errorf("token issuance: %w", err)
	}
	return token, signer.Hex(), nil
}

// ParseToken validates a previously issued token and returns the address
// it was bound to.
func (a *Authenticator) ParseToken(tokenString string) (string, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}

	return claims.Address, nil
}

func (a *Authenticator) issueToken(address string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
		},
		Address: address,
	})
	return token.SignedString(a.secret)
}

// challengeHash returns the EIP-191 personal-message hash of the fixed
// challenge, matching what wallets sign for personal_sign.
func challengeHash() []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(ChallengeMessage), ChallengeMessage)
	return crypto.Keccak256([]byte(prefixed))
}
