package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourorg/finance/internal/auth"
	"github.com/yourorg/finance/internal/domain"
	"github.com/yourorg/finance/internal/execution"
	"github.com/yourorg/finance/internal/repository/sqlstore"
)

const maxBodyBytes = 1 << 20

type Handlers struct {
	accounts *auth.Accounts
	ledger   *execution.Service
	jwtSvc   *auth.JWTService
	logger   *slog.Logger
}

func NewHandlers(
	accounts *auth.Accounts,
	ledger *execution.Service,
	jwtSvc *auth.JWTService,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		accounts: accounts,
		ledger:   ledger,
		jwtSvc:   jwtSvc,
		logger:   logger,
	}
}

type authResponse struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.accounts.Register(r.Context(), f["username"], f["password"], f["confirmation"])
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.startSession(w, r, http.StatusCreated, user)
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.accounts.Authenticate(r.Context(), f["username"], f["password"])
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.startSession(w, r, http.StatusOK, user)
}

func (h *Handlers) startSession(w http.ResponseWriter, r *http.Request, code int, user *domain.User) {
	token, err := h.jwtSvc.Sign(user.ID, user.Username)
	if err != nil {
		h.logger.Error("failed to sign token", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.jwtSvc.TTL() / time.Second),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, code, authResponse{Token: token, User: user})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

type quoteResponse struct {
	*domain.Quote
	PriceDisplay string `json:"price_display"`
}

func (h *Handlers) GetQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.ledger.Quote(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{Quote: q, PriceDisplay: domain.USD(q.Price)})
}

type tradeResponse struct {
	*domain.Trade
	Message string `json:"message"`
}

func (h *Handlers) Buy(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, "Bought!", func(ctx context.Context, f map[string]string, shares execution.Shares) (*domain.Trade, error) {
		return h.ledger.Buy(ctx, auth.UserIDFromCtx(ctx), f["symbol"], shares)
	})
}

func (h *Handlers) Sell(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, "Sold!", func(ctx context.Context, f map[string]string, shares execution.Shares) (*domain.Trade, error) {
		return h.ledger.Sell(ctx, auth.UserIDFromCtx(ctx), f["symbol"], shares)
	})
}

func (h *Handlers) trade(
	w http.ResponseWriter,
	r *http.Request,
	message string,
	execute func(ctx context.Context, f map[string]string, shares execution.Shares) (*domain.Trade, error),
) {
	f, err := readFields(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	shares, err := execution.ParseShares(f["shares"])
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	trade, err := execute(r.Context(), f, shares)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tradeResponse{Trade: trade, Message: message})
}

type positionView struct {
	domain.Position
	PriceDisplay string `json:"price_display"`
	TotalDisplay string `json:"total_display"`
}

type portfolioResponse struct {
	Positions         []positionView  `json:"positions"`
	Cash              decimal.Decimal `json:"cash"`
	CashDisplay       string          `json:"cash_display"`
	GrandTotal        decimal.Decimal `json:"grand_total"`
	GrandTotalDisplay string          `json:"grand_total_display"`
}

func (h *Handlers) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	holdings, err := h.ledger.Holdings(r.Context(), auth.UserIDFromCtx(r.Context()))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	resp := portfolioResponse{
		Positions:         make([]positionView, 0, len(holdings.Positions)),
		Cash:              holdings.Cash,
		CashDisplay:       domain.USD(holdings.Cash),
		GrandTotal:        holdings.GrandTotal,
		GrandTotalDisplay: domain.USD(holdings.GrandTotal),
	}
	for _, p := range holdings.Positions {
		resp.Positions = append(resp.Positions, positionView{
			Position:     p,
			PriceDisplay: domain.USD(p.Price),
			TotalDisplay: domain.USD(p.Total),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.History(r.Context(), auth.UserIDFromCtx(r.Context()))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) GetHoldings(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.ledger.HeldSymbols(r.Context(), auth.UserIDFromCtx(r.Context()))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"symbols": symbols})
}

// writeFailure maps ledger and account errors to a status and reason.
func (h *Handlers) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *execution.ValidationError
		netErr net.Error
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Reason)
	case errors.Is(err, execution.ErrQuoteUnavailable),
		errors.Is(err, auth.ErrUsernameTaken),
		errors.Is(err, auth.ErrPasswordMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, execution.ErrInsufficientFunds),
		errors.Is(err, execution.ErrInsufficientShares),
		errors.Is(err, execution.ErrNoSuchSymbol),
		errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, sqlstore.ErrUserNotFound):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		h.logger.Warn("request timed out", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	case errors.Is(err, execution.ErrQuoteService):
		h.logger.Warn("quote lookup failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadGateway, execution.ErrQuoteService.Error())
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// readFields reads a flat form or JSON object body into strings. JSON
// numbers keep their literal text so share counts can be validated exactly.
func readFields(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	fields := make(map[string]string)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}
		return fields, nil
	}

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return fields, nil
		}
		return nil, err
	}
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			fields[k] = v
		case json.Number:
			fields[k] = v.String()
		case nil:
		default:
			fields[k] = fmt.Sprint(v)
		}
	}
	return fields, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
