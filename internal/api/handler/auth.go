package handler

import (
	"errors"
	"fundchat/backend/internal/directory"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const ticketIssuer = "fundchat-backend"

var errInvalidTicket = errors.New("invalid or expired ticket")

// TicketIssuer signs short-lived WebSocket tickets. Browsers cannot set
// headers on a WebSocket upgrade, so the public key travels in the ticket.
type TicketIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTicketIssuer(secret string, ttl time.Duration) *TicketIssuer {
	return &TicketIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed ticket for publicKey and its expiry.
func (t *TicketIssuer) Issue(publicKey string) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   publicKey,
		Issuer:    ticketIssuer,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	return signed, exp, err
}

// Validate returns the public key bound to a ticket.
func (t *TicketIssuer) Validate(ticket string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(ticket, &claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ticketIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || claims.Subject == "" {
		return "", errInvalidTicket
	}
	return claims.Subject, nil
}

// credentials reads the opaque auth headers of the caller.
func credentials(c *gin.Context) (directory.Credentials, bool) {
	creds := directory.Credentials{
		PublicKey: c.GetHeader(directory.HeaderPublicKey),
		Signature: c.GetHeader(directory.HeaderSignature),
	}
	return creds, creds.PublicKey != ""
}

// IssueTicket turns the caller's publickey header into a WebSocket ticket.
func (h *Handler) IssueTicket(c *gin.Context) {
	creds, ok := credentials(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "publickey header missing"})
		return
	}

	ticket, exp, err := h.Tickets.Issue(creds.PublicKey)
	if err != nil {
		h.log.Error().Err(err).Msg("signing ticket failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create ticket"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ticket": ticket, "expiresAt": exp.Unix()})
}
